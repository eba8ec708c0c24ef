// Package embedding reconciles embedding tables and drives the cellmaps
// embedding, co-embedding and hierarchy tools.
package embedding

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Row is one keyed vector of an embedding table.
type Row struct {
	Key    string
	Vector []float64
}

// ReadTable parses a tab-separated embedding table: a key column followed by
// numeric columns. A first row is taken as a header and dropped when its key
// is empty, its values are not numeric, or its values are the column indices
// 0, 1, 2 and so on. Every other row must be numeric and as wide as the first.
func ReadTable(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []Row
	width := -1
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected a key and at least one value, got %d columns", line, len(record))
		}

		vector, err := parseVector(record[1:])
		if line == 1 && (err != nil || record[0] == "" || isColumnIndex(record[1:])) {
			continue // header
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if width == -1 {
			width = len(vector)
		} else if len(vector) != width {
			return nil, fmt.Errorf("line %d: expected %d values, got %d", line, width, len(vector))
		}
		rows = append(rows, Row{Key: record[0], Vector: vector})
	}
	return rows, nil
}

func isColumnIndex(fields []string) bool {
	for i, f := range fields {
		if f != strconv.Itoa(i) {
			return false
		}
	}
	return true
}

func parseVector(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %q is not numeric", i+2, f)
		}
		out[i] = v
	}
	return out, nil
}

// Average collapses rows sharing a key into one row holding the column-wise
// arithmetic mean. Keys keep the order of their first appearance. Rows must
// share one width, as ReadTable guarantees.
func Average(rows []Row) []Row {
	var order []string
	groups := make(map[string][]Row)
	for _, r := range rows {
		if _, ok := groups[r.Key]; !ok {
			order = append(order, r.Key)
		}
		groups[r.Key] = append(groups[r.Key], r)
	}

	out := make([]Row, 0, len(order))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}

		width := len(group[0].Vector)
		data := make([]float64, 0, len(group)*width)
		for _, r := range group {
			data = append(data, r.Vector...)
		}
		m := mat.NewDense(len(group), width, data)

		mean := make([]float64, width)
		col := make([]float64, len(group))
		for j := 0; j < width; j++ {
			mean[j] = stat.Mean(mat.Col(col, j, m), nil)
		}
		out = append(out, Row{Key: key, Vector: mean})
	}
	return out
}

// WriteTable writes rows tab-separated without a header.
func WriteTable(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	for _, r := range rows {
		record := make([]string, 0, len(r.Vector)+1)
		record = append(record, r.Key)
		for _, v := range r.Vector {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Reconcile rewrites the table at path in place with one row per key and
// returns the number of rows written. Reconciling an already unique table
// leaves its rows unchanged.
func Reconcile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding table: %w", err)
	}

	rows, err := ReadTable(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("invalid embedding table %s: %w", path, err)
	}
	averaged := Average(rows)

	var buf bytes.Buffer
	if err := WriteTable(&buf, averaged); err != nil {
		return 0, fmt.Errorf("failed to encode embedding table: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat embedding table: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("failed to write embedding table: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to replace embedding table: %w", err)
	}
	return len(averaged), nil
}
