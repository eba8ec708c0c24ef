// Package meta reads the image metadata table that drives deconvolution.
package meta

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/hitmap/internal/layout"
)

// Required columns of the image metadata table.
const (
	ColumnFileDirectory  = "file_directory"
	ColumnChannel        = "channel"
	ColumnTargetProteins = "targetted_proteins"
	ColumnSavePrefix     = "save_prefix"
)

var requiredColumns = []string{ColumnFileDirectory, ColumnChannel, ColumnTargetProteins, ColumnSavePrefix}

// Row is one raw image of the metadata table.
type Row struct {
	// Line is the 1-based line number in the source file, header included
	Line int

	FileDirectory  string
	Channel        layout.Channel
	TargetProteins string
	SavePrefix     string
}

// Base is the filename of the raw image.
func (r Row) Base() string { return filepath.Base(r.FileDirectory) }

// OutputName is the filename deconwolf gives its output for this row.
func (r Row) OutputName() string { return r.SavePrefix + "_" + r.Base() }

// Key returns the structured identity of the row.
func (r Row) Key() ImageKey {
	return ImageKey{
		Gene:     GeneFromPrefix(r.SavePrefix),
		SourceID: strings.TrimSuffix(r.OutputName(), layout.DeconvolvedTIFFSuffix),
	}
}

// ImageKey identifies one source image across stages. SourceID is the name of
// the deconvolved stack without its suffix, which every later stage keeps as
// the stem of the names it derives.
type ImageKey struct {
	Gene     string
	SourceID string
}

func (k ImageKey) String() string { return k.Gene + "/" + k.SourceID }

// GeneFromPrefix returns the first underscore-delimited token of name.
func GeneFromPrefix(name string) string {
	gene, _, _ := strings.Cut(name, "_")
	return gene
}

// Load reads and validates the tab-separated metadata table at path. Relative
// image paths are resolved against the working directory.
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image metadata %s: %w", path, err)
	}
	defer f.Close()

	rows, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("invalid image metadata %s: %w", path, err)
	}
	for i := range rows {
		abs, err := filepath.Abs(rows[i].FileDirectory)
		if err != nil {
			return nil, fmt.Errorf("line %d: failed to resolve %s: %w", rows[i].Line, rows[i].FileDirectory, err)
		}
		rows[i].FileDirectory = abs
	}
	return rows, nil
}

// Parse reads a metadata table. Extra columns are ignored; row order is preserved.
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("table is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(col string) string { return strings.TrimSpace(record[index[col]]) }

		ch, err := layout.ParseChannel(field(ColumnChannel))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := Row{
			Line:           line,
			FileDirectory:  field(ColumnFileDirectory),
			Channel:        ch,
			TargetProteins: field(ColumnTargetProteins),
			SavePrefix:     field(ColumnSavePrefix),
		}
		if row.FileDirectory == "" {
			return nil, fmt.Errorf("line %d: %s is empty", line, ColumnFileDirectory)
		}
		if row.SavePrefix == "" {
			return nil, fmt.Errorf("line %d: %s is empty", line, ColumnSavePrefix)
		}
		if strings.ContainsRune(row.SavePrefix, filepath.Separator) {
			return nil, fmt.Errorf("line %d: %s %q must not contain a path separator", line, ColumnSavePrefix, row.SavePrefix)
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}
	return rows, nil
}

// Channels returns the distinct channels referenced by rows, in canonical order.
func Channels(rows []Row) []layout.Channel {
	seen := make(map[layout.Channel]bool)
	for _, r := range rows {
		seen[r.Channel] = true
	}
	var out []layout.Channel
	for _, c := range layout.Channels() {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
