package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tool runtimes
const (
	RuntimeLocal  = "local"
	RuntimeDocker = "docker"
)

// Defaults taken from the deconwolf and cellmaps tool conventions.
const (
	DefaultIterations = 100
	DefaultClipLimit  = 0.7
	DefaultTileGrid   = 8
)

// ToolsConfig represents the optional tools.yml describing how external tools are invoked
type ToolsConfig struct {
	Runtime       string              `yaml:"runtime,omitempty"` // "local" (default) or "docker"
	Docker        *DockerConfig       `yaml:"docker,omitempty"`  // Required if runtime="docker"
	Binaries      BinariesConfig      `yaml:"binaries"`
	Deconvolution DeconvolutionConfig `yaml:"deconvolution"`
	Projection    ProjectionConfig    `yaml:"projection"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
}

// DockerConfig specifies the container every tool runs in when runtime="docker"
type DockerConfig struct {
	Image       string   `yaml:"image"`
	Network     string   `yaml:"network,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	User        string   `yaml:"user,omitempty"`
}

// BinariesConfig names the executable of each external tool
type BinariesConfig struct {
	PSF            string `yaml:"psf,omitempty"`
	Deconvolution  string `yaml:"deconvolution,omitempty"`
	ImageEmbedding string `yaml:"image_embedding,omitempty"`
	PPIEmbedding   string `yaml:"ppi_embedding,omitempty"`
	CoEmbedding    string `yaml:"co_embedding,omitempty"`
	Hierarchy      string `yaml:"hierarchy,omitempty"`
	HierarchyEval  string `yaml:"hierarchy_eval,omitempty"`
}

// DeconvolutionConfig tunes the deconwolf invocation
type DeconvolutionConfig struct {
	Iterations int `yaml:"iterations,omitempty"`
}

// ProjectionConfig tunes the z-max projection stage
type ProjectionConfig struct {
	ClipLimit float64 `yaml:"clip_limit,omitempty"`
	DX        float64 `yaml:"dx,omitempty"`
	DZ        float64 `yaml:"dz,omitempty"`
}

// EmbeddingConfig carries the embedding dimensionality passed as --k (0 = tool default)
type EmbeddingConfig struct {
	ImageDimensions int `yaml:"image_dimensions,omitempty"`
	PPIDimensions   int `yaml:"ppi_dimensions,omitempty"`
	CoDimensions    int `yaml:"co_dimensions,omitempty"`
}

// DefaultTools returns the configuration used when no tools.yml is supplied.
func DefaultTools() ToolsConfig {
	t := ToolsConfig{}
	t.applyDefaults()
	return t
}

func (t *ToolsConfig) applyDefaults() {
	if t.Runtime == "" {
		t.Runtime = RuntimeLocal
	}
	b := &t.Binaries
	if b.PSF == "" {
		b.PSF = "dw_bw"
	}
	if b.Deconvolution == "" {
		b.Deconvolution = "dw"
	}
	if b.ImageEmbedding == "" {
		b.ImageEmbedding = "cellmaps_image_embeddingcmd.py"
	}
	if b.PPIEmbedding == "" {
		b.PPIEmbedding = "cellmaps_ppi_embeddingcmd.py"
	}
	if b.CoEmbedding == "" {
		b.CoEmbedding = "cellmaps_coembeddingcmd.py"
	}
	if b.Hierarchy == "" {
		b.Hierarchy = "cellmaps_generate_hierarchycmd.py"
	}
	if b.HierarchyEval == "" {
		b.HierarchyEval = "cellmaps_hierarchyevalcmd.py"
	}
	if t.Deconvolution.Iterations == 0 {
		t.Deconvolution.Iterations = DefaultIterations
	}
	if t.Projection.ClipLimit == 0 {
		t.Projection.ClipLimit = DefaultClipLimit
	}
	if t.Projection.DX == 0 {
		t.Projection.DX = 1
	}
	if t.Projection.DZ == 0 {
		t.Projection.DZ = 1
	}
}

// Validate performs validation on the tools configuration
func (t *ToolsConfig) Validate() error {
	switch t.Runtime {
	case RuntimeLocal:
	case RuntimeDocker:
		if t.Docker == nil || t.Docker.Image == "" {
			return fmt.Errorf("runtime 'docker' requires docker.image")
		}
	default:
		return fmt.Errorf("invalid runtime: %s (must be 'local' or 'docker')", t.Runtime)
	}

	if t.Deconvolution.Iterations < 1 {
		return fmt.Errorf("deconvolution.iterations must be >= 1, got %d", t.Deconvolution.Iterations)
	}
	if t.Projection.ClipLimit <= 0 {
		return fmt.Errorf("projection.clip_limit must be > 0, got %v", t.Projection.ClipLimit)
	}
	if t.Projection.DX <= 0 || t.Projection.DZ <= 0 {
		return fmt.Errorf("projection.dx and projection.dz must be > 0")
	}

	e := t.Embedding
	if e.ImageDimensions < 0 || e.PPIDimensions < 0 || e.CoDimensions < 0 {
		return fmt.Errorf("embedding dimensions must be >= 0 (0 = tool default)")
	}
	return nil
}

// LoadTools reads tools.yml from path. An empty path yields the defaults.
func LoadTools(path string) (ToolsConfig, error) {
	if path == "" {
		return DefaultTools(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ToolsConfig{}, fmt.Errorf("failed to read tools config: %w", err)
	}

	var tools ToolsConfig
	if err := yaml.Unmarshal(data, &tools); err != nil {
		return ToolsConfig{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	tools.applyDefaults()
	if err := tools.Validate(); err != nil {
		return ToolsConfig{}, fmt.Errorf("invalid tools configuration: %w", err)
	}
	return tools, nil
}
