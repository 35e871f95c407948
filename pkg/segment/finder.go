package segment

import (
	"fmt"
	"strings"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/logging"
)

// A Detector finds sources in a frame: every connected run of pixels
// above threshold (and at least the minimum size) gets its own label.
type Detector interface {
	Detect(data *emath.FloatGrid, threshold float64) (*LabelMap, error)

	// Params returns the full configuration, in a fixed order. Passing
	// it to NewDetectorFromParams builds an equivalent detector.
	Params() Params
}

// FinderConfig configures a detector that never deblends.
type FinderConfig struct {
	NPixels      int          // Min pixels per source; 0 means unset, i.e. 1
	Connectivity Connectivity // 4 or 8
	BorderWidth  int          // Drop sources within this many pixels of an edge; 0 keeps all
}

// CrowdedFinderConfig configures a detector that deblends, for crowded fields.
type CrowdedFinderConfig struct {
	NPixels      int
	Connectivity Connectivity
	NLevels      int     // Number of deblending thresholds
	Contrast     float64 // Min fraction of a segment's flux for a split-off source
	Mode         Mode
	BorderWidth  int
}

func DefaultFinderConfig() FinderConfig {
	return FinderConfig{Connectivity: Eight}
}

func DefaultCrowdedFinderConfig() CrowdedFinderConfig {
	return CrowdedFinderConfig{
		Connectivity: Eight,
		NLevels:      32,
		Contrast:     0.001,
		Mode:         Exponential,
	}
}

func (c FinderConfig) Validate() error {
	return validateCommon(c.NPixels, c.Connectivity, c.BorderWidth)
}

func (c CrowdedFinderConfig) Validate() error {
	if err := validateCommon(c.NPixels, c.Connectivity, c.BorderWidth); err != nil {
		return err
	}
	switch {
	case c.NLevels < 1:
		return fmt.Errorf("nlevels %d, must be >= 1: %w", c.NLevels, ErrInvalidConfig)
	case !(c.Contrast >= 0 && c.Contrast <= 1):
		return fmt.Errorf("contrast %g, must be in [0,1]: %w", c.Contrast, ErrInvalidConfig)
	case !c.Mode.Valid():
		return fmt.Errorf("mode '%s', want exponential|linear|sinh: %w", c.Mode, ErrInvalidConfig)
	}
	return nil
}

func validateCommon(npixels int, conn Connectivity, borderWidth int) error {
	switch {
	case npixels < 0:
		return fmt.Errorf("npixels %d, must be >= 0: %w", npixels, ErrInvalidConfig)
	case !conn.Valid():
		return fmt.Errorf("connectivity %d, must be 4 or 8: %w", conn, ErrInvalidConfig)
	case borderWidth < 0:
		return fmt.Errorf("border_width %d, must be >= 0: %w", borderWidth, ErrInvalidConfig)
	}
	return nil
}

// pipeline is the part both variants share. The only difference
// between them is whether splitter is set.
type pipeline struct {
	npixels     int
	conn        Connectivity
	borderWidth int
	splitter    *deblender
}

func (p pipeline) run(data *emath.FloatGrid, threshold float64) (*LabelMap, error) {
	lm, err := detectSources(data, threshold, p.npixels, p.conn)
	if err != nil {
		return nil, err
	}
	if p.splitter != nil {
		p.splitter.split(data, lm)
	}
	lm.RemoveBorderLabels(p.borderWidth, true)

	logging.Debugf("detect: %s at threshold %g\n", lm, threshold)
	return lm, nil
}

// Finder labels sources without splitting blended ones.
type Finder struct {
	cfg FinderConfig
}

func NewFinder(cfg FinderConfig) (*Finder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewFinder: %w", err)
	}
	return &Finder{cfg: cfg}, nil
}

func (f *Finder) Config() FinderConfig { return f.cfg }

func (f *Finder) Detect(data *emath.FloatGrid, threshold float64) (*LabelMap, error) {
	p := pipeline{npixels: max(f.cfg.NPixels, 1), conn: f.cfg.Connectivity, borderWidth: f.cfg.BorderWidth}
	return p.run(data, threshold)
}

func (f *Finder) Params() Params {
	return Params{
		{"npixels", f.cfg.NPixels},
		{"connectivity", int(f.cfg.Connectivity)},
		{"border_width", f.cfg.BorderWidth},
	}
}

func (f *Finder) String() string { return "Finder" + f.Params().String() }

// CrowdedFinder labels sources, then deblends each one.
type CrowdedFinder struct {
	cfg CrowdedFinderConfig
}

func NewCrowdedFinder(cfg CrowdedFinderConfig) (*CrowdedFinder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewCrowdedFinder: %w", err)
	}
	return &CrowdedFinder{cfg: cfg}, nil
}

func (f *CrowdedFinder) Config() CrowdedFinderConfig { return f.cfg }

func (f *CrowdedFinder) Detect(data *emath.FloatGrid, threshold float64) (*LabelMap, error) {
	npix := max(f.cfg.NPixels, 1)
	p := pipeline{
		npixels:     npix,
		conn:        f.cfg.Connectivity,
		borderWidth: f.cfg.BorderWidth,
		splitter: &deblender{
			npixels:  npix,
			conn:     f.cfg.Connectivity,
			nlevels:  f.cfg.NLevels,
			contrast: f.cfg.Contrast,
			mode:     f.cfg.Mode,
		},
	}
	return p.run(data, threshold)
}

func (f *CrowdedFinder) Params() Params {
	return Params{
		{"npixels", f.cfg.NPixels},
		{"connectivity", int(f.cfg.Connectivity)},
		{"nlevels", f.cfg.NLevels},
		{"contrast", f.cfg.Contrast},
		{"mode", string(f.cfg.Mode)},
		{"border_width", f.cfg.BorderWidth},
	}
}

func (f *CrowdedFinder) String() string { return "CrowdedFinder" + f.Params().String() }

// A Param is one named configuration value.
type Param struct {
	Key   string
	Value any
}

// Params is an ordered set of Param, for logging and for rebuilding
// a detector.
type Params []Param

func (ps Params) Get(key string) (any, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

func (ps Params) Map() map[string]any {
	m := make(map[string]any, len(ps))
	for _, p := range ps {
		m[p.Key] = p.Value
	}
	return m
}

func (ps Params) String() string {
	strs := make([]string, len(ps))
	for i, p := range ps {
		strs[i] = fmt.Sprintf("%s=%v", p.Key, p.Value)
	}
	return "[" + strings.Join(strs, ", ") + "]"
}

// NewDetectorFromParams rebuilds a detector from the output of Params.
// Params that include nlevels build a CrowdedFinder, else a Finder.
// Missing keys take their defaults; unknown keys are an error.
func NewDetectorFromParams(ps Params) (Detector, error) {
	_, crowded := ps.Get("nlevels")
	c := DefaultCrowdedFinderConfig()

	for _, p := range ps {
		var err error
		switch p.Key {
		case "npixels":
			c.NPixels, err = asInt(p.Value)
		case "connectivity":
			var n int
			n, err = asInt(p.Value)
			c.Connectivity = Connectivity(n)
		case "nlevels":
			c.NLevels, err = asInt(p.Value)
		case "contrast":
			c.Contrast, err = asFloat(p.Value)
		case "mode":
			switch v := p.Value.(type) {
			case string:
				c.Mode = Mode(v)
			case Mode:
				c.Mode = v
			default:
				err = fmt.Errorf("not a string: %T", p.Value)
			}
		case "border_width":
			c.BorderWidth, err = asInt(p.Value)
		default:
			err = fmt.Errorf("unknown key")
		}
		if err != nil {
			return nil, fmt.Errorf("param '%s': %v: %w", p.Key, err, ErrInvalidConfig)
		}
	}

	if crowded {
		return NewCrowdedFinder(c)
	}
	return NewFinder(FinderConfig{NPixels: c.NPixels, Connectivity: c.Connectivity, BorderWidth: c.BorderWidth})
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case Connectivity:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%g is not an integer", n)
		}
		return int(n), nil
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("not an integer: %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("not a number: %T", v)
}
