package segment

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

/* Example detector config file ...

kind: crowded
npixels: 5
connectivity: 8
nlevels: 32
contrast: 0.001
mode: exponential
border_width: 10
threshold_sigma: 5
smooth: true

*/

// DetectorConfig is the on-disk form of a detector, plus the knobs the
// detect command needs to pick a threshold.
type DetectorConfig struct {
	Kind         string  `yaml:"kind"` // "finder" or "crowded"
	NPixels      int     `yaml:"npixels"`
	Connectivity int     `yaml:"connectivity"`
	NLevels      int     `yaml:"nlevels"`
	Contrast     float64 `yaml:"contrast"`
	Mode         string  `yaml:"mode"`
	BorderWidth  int     `yaml:"border_width"`

	ThresholdSigma float64 `yaml:"threshold_sigma"` // Detection threshold, in background RMS above the background
	Smooth         bool    `yaml:"smooth"`          // Blur a little before thresholding
}

func NewDetectorConfig() DetectorConfig {
	d := DefaultCrowdedFinderConfig()
	return DetectorConfig{
		Kind:           "finder",
		NPixels:        5,
		Connectivity:   int(d.Connectivity),
		NLevels:        d.NLevels,
		Contrast:       d.Contrast,
		Mode:           string(d.Mode),
		ThresholdSigma: 5,
	}
}

func NewDetectorConfigFromYaml(b []byte) (DetectorConfig, error) {
	c := NewDetectorConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func LoadDetectorConfig(filename string) (DetectorConfig, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return DetectorConfig{}, fmt.Errorf("config read '%s': %w", filename, err)
	}

	c, err := NewDetectorConfigFromYaml(contents)
	if err != nil {
		return c, fmt.Errorf("config parse '%s': %w", filename, err)
	}
	return c, nil
}

func (c DetectorConfig) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("# can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Build turns the config into a Detector.
func (c DetectorConfig) Build() (Detector, error) {
	switch c.Kind {
	case "finder", "":
		return NewFinder(FinderConfig{
			NPixels:      c.NPixels,
			Connectivity: Connectivity(c.Connectivity),
			BorderWidth:  c.BorderWidth,
		})
	case "crowded":
		return NewCrowdedFinder(CrowdedFinderConfig{
			NPixels:      c.NPixels,
			Connectivity: Connectivity(c.Connectivity),
			NLevels:      c.NLevels,
			Contrast:     c.Contrast,
			Mode:         Mode(c.Mode),
			BorderWidth:  c.BorderWidth,
		})
	default:
		return nil, fmt.Errorf("no detector kind named '%s': %w", c.Kind, ErrInvalidConfig)
	}
}
