package layout

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirMode is the permission used for every directory of a run tree.
const DirMode os.FileMode = 0755

// Directory and file names of the run tree. Each stage reads the previous stage's directory.
const (
	PSFDir          = "theoretical_psf"
	DeconvImagesDir = "deconvoluted_images"
	DeconvLogsDir   = "deconvoluted_logs"
	ProjectionDir   = "z_max_projection"
	EmbeddingDir    = "embedding"

	ImageEmbeddingDir     = "img_embedding"
	PPIEmbeddingDir       = "ppi_embedding"
	CoEmbeddingDir        = "co_embedding"
	HierarchyDir          = "hierarchy"
	HierarchyEvalDir      = "hierarchy_eval"
	NodeAttributesFile    = "1_image_gene_node_attributes.tsv"
	ImageEmbeddingFile    = "image_emd.tsv"
	ProjectedImageSuffix  = ".jpg"
	DeconvolvedTIFFSuffix = ".tif"
)

// ErrNotPopulated is returned when a stage input directory is missing or empty.
var ErrNotPopulated = errors.New("stage input not populated")

// Layout resolves every path of a run tree rooted at Root.
type Layout struct {
	Root string
}

// New returns the layout for an output root, made absolute.
func New(root string) (Layout, error) {
	if root == "" {
		return Layout{}, fmt.Errorf("output directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to resolve output directory %s: %w", root, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) PSFDir() string { return filepath.Join(l.Root, PSFDir) }

// PSFFile is the theoretical PSF written for a channel.
func (l Layout) PSFFile(c Channel) string {
	return filepath.Join(l.PSFDir(), fmt.Sprintf("%s_psf.tiff", c))
}

func (l Layout) DeconvImagesDir() string { return filepath.Join(l.Root, DeconvImagesDir) }

func (l Layout) DeconvChannelDir(c Channel) string {
	return filepath.Join(l.DeconvImagesDir(), string(c))
}

func (l Layout) DeconvLogsDir() string { return filepath.Join(l.Root, DeconvLogsDir) }

func (l Layout) ProjectionDir() string { return filepath.Join(l.Root, ProjectionDir) }

func (l Layout) ProjectionChannelDir(c Channel) string {
	return filepath.Join(l.ProjectionDir(), string(c))
}

// NodeAttributesFile lives next to the channel directories of the projection stage.
func (l Layout) NodeAttributesFile() string {
	return filepath.Join(l.ProjectionDir(), NodeAttributesFile)
}

func (l Layout) EmbeddingDir() string { return filepath.Join(l.Root, EmbeddingDir) }

func (l Layout) ImageEmbeddingDir() string {
	return filepath.Join(l.EmbeddingDir(), ImageEmbeddingDir)
}

func (l Layout) ImageEmbeddingFile() string {
	return filepath.Join(l.ImageEmbeddingDir(), ImageEmbeddingFile)
}

func (l Layout) PPIEmbeddingDir() string { return filepath.Join(l.EmbeddingDir(), PPIEmbeddingDir) }

func (l Layout) CoEmbeddingDir() string { return filepath.Join(l.EmbeddingDir(), CoEmbeddingDir) }

func (l Layout) HierarchyDir() string { return filepath.Join(l.EmbeddingDir(), HierarchyDir) }

func (l Layout) HierarchyEvalDir() string {
	return filepath.Join(l.EmbeddingDir(), HierarchyEvalDir)
}

// EnsureDir creates dir (and parents) if absent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// EnsureChannelDirs creates parent plus one subdirectory per channel.
func EnsureChannelDirs(parent string) error {
	if err := EnsureDir(parent); err != nil {
		return err
	}
	for _, c := range Channels() {
		if err := EnsureDir(filepath.Join(parent, string(c))); err != nil {
			return err
		}
	}
	return nil
}

// RequireDir fails with ErrNotPopulated unless dir exists and is a directory.
func RequireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrNotPopulated, dir)
		}
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNotPopulated, dir)
	}
	return nil
}

// RequirePopulated fails with ErrNotPopulated unless dir exists and holds at least one entry.
func RequirePopulated(dir string) error {
	n, err := CountEntries(dir)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNotPopulated, dir)
	}
	return nil
}

// RequireFile fails with ErrNotPopulated unless path is an existing regular file.
func RequireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrNotPopulated, path)
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrNotPopulated, path)
	}
	return nil
}

// CountEntries returns the number of entries in dir, which must exist.
func CountEntries(dir string) (int, error) {
	if err := RequireDir(dir); err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	return len(entries), nil
}

// Exists reports whether path exists at all.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
