package synth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

/* Example synth config file ...

filters: [g, r, i]
binning: 8
n_sources: 6
variable_source: 1
seed: 123
workers: 4

*/

type Config struct {
	Filters        []string `yaml:"filters"`
	Binning        int      `yaml:"binning"`         // Frames are 2048/binning pixels square
	NSources       int      `yaml:"n_sources"`       // Point sources per observation
	VariableSource int      `yaml:"variable_source"` // Index of the source whose flux varies; <0 for none
	Seed           uint64   `yaml:"seed"`            // Seeds source positions and fluxes
	Workers        int      `yaml:"workers"`         // Frame indices generated at once
}

func NewConfig() Config {
	return Config{
		Filters:        []string{"g", "r", "i"},
		Binning:        8,
		NSources:       6,
		VariableSource: 1,
		Seed:           123,
		Workers:        1,
	}
}

func NewConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func LoadConfig(filename string) (Config, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("config read '%s': %w", filename, err)
	}

	c, err := NewConfigFromYaml(contents)
	if err != nil {
		return c, fmt.Errorf("config parse '%s': %w", filename, err)
	}
	return c, nil
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

func (c Config) Validate() error {
	switch {
	case len(c.Filters) == 0:
		return fmt.Errorf("synth config: no filters")
	case c.Binning < 1 || c.Binning > 64:
		return fmt.Errorf("synth config: binning %d, want 1..64", c.Binning)
	case c.NSources < 0:
		return fmt.Errorf("synth config: n_sources %d", c.NSources)
	case c.VariableSource >= c.NSources:
		return fmt.Errorf("synth config: variable_source %d, only %d sources", c.VariableSource, c.NSources)
	}
	for _, f := range c.Filters {
		if f == "" {
			return fmt.Errorf("synth config: empty filter name")
		}
	}
	return nil
}
