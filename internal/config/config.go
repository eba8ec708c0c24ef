package config

import (
	"fmt"
	"os"
	"sort"

	"github.com/dyluth/hitmap/internal/layout"
	"gopkg.in/yaml.v3"
)

// microscopeFile mirrors the on-disk microscope setup document.
// JSON documents are accepted as well since they are valid YAML.
type microscopeFile struct {
	NI      float64        `yaml:"ni"`      // refractive index
	NA      float64        `yaml:"NA"`      // numerical aperture
	Lambda  map[string]int `yaml:"lambda"`  // channel -> wavelength
	ResXY   int            `yaml:"resxy"`   // pixel size
	ResZ    int            `yaml:"resz"`    // distance between planes
	Threads int            `yaml:"threads"` // passed through to the PSF tool
}

// MicroscopeSetup is the immutable optical configuration of one run.
// It is loaded once and passed by value into PSF generation.
type MicroscopeSetup struct {
	ni      float64
	na      float64
	lambda  map[layout.Channel]int
	resXY   int
	resZ    int
	threads int
}

// NewMicroscopeSetup builds and validates a setup from explicit values.
func NewMicroscopeSetup(ni, na float64, lambda map[layout.Channel]int, resXY, resZ, threads int) (MicroscopeSetup, error) {
	copied := make(map[layout.Channel]int, len(lambda))
	for c, w := range lambda {
		copied[c] = w
	}
	s := MicroscopeSetup{ni: ni, na: na, lambda: copied, resXY: resXY, resZ: resZ, threads: threads}
	if err := s.Validate(); err != nil {
		return MicroscopeSetup{}, err
	}
	return s, nil
}

func (s MicroscopeSetup) NI() float64  { return s.ni }
func (s MicroscopeSetup) NA() float64  { return s.na }
func (s MicroscopeSetup) ResXY() int   { return s.resXY }
func (s MicroscopeSetup) ResZ() int    { return s.resZ }
func (s MicroscopeSetup) Threads() int { return s.threads }

// Wavelength returns the configured wavelength for a channel.
func (s MicroscopeSetup) Wavelength(c layout.Channel) (int, bool) {
	w, ok := s.lambda[c]
	return w, ok
}

// Channels returns the channels of the wavelength map in canonical order.
func (s MicroscopeSetup) Channels() []layout.Channel {
	var out []layout.Channel
	for _, c := range layout.Channels() {
		if _, ok := s.lambda[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Validate performs strict validation on the setup
func (s MicroscopeSetup) Validate() error {
	if s.ni <= 0 {
		return fmt.Errorf("ni must be > 0, got %v", s.ni)
	}
	if s.na <= 0 {
		return fmt.Errorf("NA must be > 0, got %v", s.na)
	}
	if len(s.lambda) == 0 {
		return fmt.Errorf("lambda must map at least one channel to a wavelength")
	}

	// Report channels in a stable order so errors are reproducible
	keys := make([]string, 0, len(s.lambda))
	for c := range s.lambda {
		keys = append(keys, string(c))
	}
	sort.Strings(keys)
	for _, k := range keys {
		c := layout.Channel(k)
		if err := c.Validate(); err != nil {
			return fmt.Errorf("lambda: %w", err)
		}
		if s.lambda[c] <= 0 {
			return fmt.Errorf("lambda.%s must be > 0, got %d", k, s.lambda[c])
		}
	}

	if s.resXY <= 0 {
		return fmt.Errorf("resxy must be > 0, got %d", s.resXY)
	}
	if s.resZ <= 0 {
		return fmt.Errorf("resz must be > 0, got %d", s.resZ)
	}
	if s.threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", s.threads)
	}
	return nil
}

// LoadMicroscopeSetup reads and validates a microscope setup document from path
func LoadMicroscopeSetup(path string) (MicroscopeSetup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MicroscopeSetup{}, fmt.Errorf("failed to read microscope setup: %w", err)
	}

	var file microscopeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return MicroscopeSetup{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	lambda := make(map[layout.Channel]int, len(file.Lambda))
	for name, w := range file.Lambda {
		lambda[layout.Channel(name)] = w
	}

	setup, err := NewMicroscopeSetup(file.NI, file.NA, lambda, file.ResXY, file.ResZ, file.Threads)
	if err != nil {
		return MicroscopeSetup{}, fmt.Errorf("invalid microscope setup: %w", err)
	}
	return setup, nil
}
