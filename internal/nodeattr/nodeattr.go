// Package nodeattr builds the gene to filename-prefix table consumed by image embedding.
package nodeattr

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/meta"
)

// Header of the node attribute table
var Header = []string{"name", "filename"}

// Entry is one row of the table.
type Entry struct {
	Key    meta.ImageKey
	Prefix string
}

// Table is the node attribute table in directory listing order.
type Table []Entry

// ParseName splits a projected image name. For A_B_C_blue.jpg the gene is A,
// the source is A_B_C and the prefix is A_B_C_ (every token but the last, with
// a trailing underscore).
func ParseName(name string) (Entry, error) {
	stem := strings.TrimSuffix(name, layout.ProjectedImageSuffix)
	tokens := strings.Split(stem, "_")
	if len(tokens) < 2 || tokens[0] == "" {
		return Entry{}, fmt.Errorf("projected image name %q has no gene token", name)
	}
	source := strings.Join(tokens[:len(tokens)-1], "_")
	return Entry{
		Key:    meta.ImageKey{Gene: tokens[0], SourceID: source},
		Prefix: source + "_",
	}, nil
}

// Build reads the .jpg files of dir in listing order and writes the table to outPath.
// Files with other suffixes are ignored.
func Build(dir, outPath string) (Table, error) {
	if err := layout.RequireDir(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var table Table
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), layout.ProjectedImageSuffix) {
			continue
		}
		entry, err := ParseName(e.Name())
		if err != nil {
			return nil, err
		}
		table = append(table, entry)
	}

	if err := Write(outPath, table); err != nil {
		return nil, err
	}
	return table, nil
}

// Write stores the table as a tab-separated file with a header and no index column.
func Write(path string, table Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create node attribute table: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = '\t'
	records := make([][]string, 0, len(table)+1)
	records = append(records, Header)
	for _, e := range table {
		records = append(records, []string{e.Key.Gene, e.Prefix})
	}
	if err := w.WriteAll(records); err != nil {
		f.Close()
		return fmt.Errorf("failed to write node attribute table: %w", err)
	}
	return f.Close()
}
