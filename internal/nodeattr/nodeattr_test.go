package nodeattr

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/dyluth/hitmap/internal/layout"
	"github.com/dyluth/hitmap/internal/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name       string
		wantGene   string
		wantSource string
		wantPrefix string
		wantErr    bool
	}{
		{"A_B_C_blue.jpg", "A", "A_B_C", "A_B_C_", false},
		{"MAPK1_rep1_img_1_blue.jpg", "MAPK1", "MAPK1_rep1_img_1", "MAPK1_rep1_img_1_", false},
		{"TP53_blue.jpg", "TP53", "TP53", "TP53_", false},
		{"nounderscore.jpg", "", "", "", true},
		{"_x_blue.jpg", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseName(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantGene, got.Key.Gene)
			assert.Equal(t, tt.wantSource, got.Key.SourceID)
			assert.Equal(t, tt.wantPrefix, got.Prefix)
		})
	}
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	blue := filepath.Join(dir, "blue")
	require.NoError(t, os.MkdirAll(blue, 0755))
	for _, n := range []string{"MAPK1_rep1_a_blue.jpg", "TP53_rep2_b_blue.jpg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(blue, n), nil, 0644))
	}
	out := filepath.Join(dir, layout.NodeAttributesFile)

	table, err := Build(blue, out)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.ElementsMatch(t, []meta.ImageKey{
		{Gene: "MAPK1", SourceID: "MAPK1_rep1_a"},
		{Gene: "TP53", SourceID: "TP53_rep2_b"},
	}, []meta.ImageKey{table[0].Key, table[1].Key})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := splitLines(string(data))
	require.Len(t, lines, 3)
	assert.Equal(t, "name\tfilename", lines[0])
	assert.ElementsMatch(t, []string{"MAPK1\tMAPK1_rep1_a_", "TP53\tTP53_rep2_b_"}, lines[1:])
}

func TestBuildIsIdempotent(t *testing.T) {
	blue := t.TempDir()
	for _, n := range []string{"B_x_blue.jpg", "A_y_blue.jpg", "A_z_blue.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(blue, n), nil, 0644))
	}
	out := filepath.Join(t.TempDir(), "table.tsv")

	first, err := Build(blue, out)
	require.NoError(t, err)
	firstData, err := os.ReadFile(out)
	require.NoError(t, err)

	second, err := Build(blue, out)
	require.NoError(t, err)
	secondData, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
	a, b := splitLines(string(firstData)), splitLines(string(secondData))
	sort.Strings(a)
	sort.Strings(b)
	assert.Equal(t, a, b)
}

func TestBuildEmptyDirWritesHeaderOnly(t *testing.T) {
	out := filepath.Join(t.TempDir(), "table.tsv")
	table, err := Build(t.TempDir(), out)
	require.NoError(t, err)
	assert.Empty(t, table)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "name\tfilename\n", string(data))
}

func TestBuildMissingDir(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "blue"), filepath.Join(t.TempDir(), "t.tsv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, layout.ErrNotPopulated)
}

func TestParseName_MatchesMetadataKey(t *testing.T) {
	row := meta.Row{FileDirectory: "/raw/B2AI_1_a.tif", Channel: layout.ChannelBlue, SavePrefix: "MAPK1_rep1"}
	name := strings.TrimSuffix(row.OutputName(), layout.DeconvolvedTIFFSuffix) + "_blue" + layout.ProjectedImageSuffix

	got, err := ParseName(name)
	require.NoError(t, err)
	assert.Equal(t, row.Key(), got.Key)
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
