// Package background estimates the sky level and noise of a frame, so a
// detection threshold can be set relative to it.
package background

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/logging"
)

var ErrNoSky = errors.New("no usable background pixels")

type Config struct {
	BoxSize  int     `yaml:"box_size"`  // Mesh box size, in pixels
	Sigma    float64 `yaml:"sigma"`     // Clip at this many stddevs
	MaxIters int     `yaml:"max_iters"` // Sigma clip iterations per box
}

func DefaultConfig() Config {
	return Config{BoxSize: 32, Sigma: 3, MaxIters: 5}
}

// Background holds the sky level and RMS, at full resolution and as the
// coarse mesh they were estimated on.
type Background struct {
	Level *emath.FloatGrid
	RMS   *emath.FloatGrid

	meshLevel *emath.FloatGrid
	meshRMS   *emath.FloatGrid
}

func (b Background) String() string {
	return fmt.Sprintf("Background[mesh %dx%d, median=%.3f, rms=%.3f]",
		b.meshLevel.Dx(), b.meshLevel.Dy(), b.GlobalMedian(), b.GlobalRMS())
}

// Estimate tiles the data into BoxSize boxes, and sigma clips each one
// to get a local level and RMS. Boxes with nothing usable in them take
// the median of the other boxes.
func Estimate(data *emath.FloatGrid, cfg Config) (*Background, error) {
	if data.Empty() {
		return nil, fmt.Errorf("background: %w", ErrNoSky)
	}
	if cfg.BoxSize < 1 || cfg.Sigma <= 0 || cfg.MaxIters < 1 {
		return nil, fmt.Errorf("background config %+v: bad values", cfg)
	}

	box := cfg.BoxSize
	nx, ny := (data.Dx()+box-1)/box, (data.Dy()+box-1)/box
	level, rms := emath.NewFloatGrid(nx, ny), emath.NewFloatGrid(nx, ny)

	vals := make([]float64, 0, box*box)
	for by := 0; by < ny; by++ {
		for bx := 0; bx < nx; bx++ {
			vals = vals[:0]
			for y := by * box; y < min((by+1)*box, data.Dy()); y++ {
				for x := bx * box; x < min((bx+1)*box, data.Dx()); x++ {
					vals = append(vals, data.Get(x, y))
				}
			}
			m, s := emath.SigmaClip(vals, cfg.Sigma, cfg.MaxIters)
			level.Set(bx, by, m)
			rms.Set(bx, by, s)
		}
	}

	if err := fillHoles(level); err != nil {
		return nil, err
	}
	if err := fillHoles(rms); err != nil {
		return nil, err
	}

	b := &Background{
		Level:     data.NewFromThis(),
		RMS:       data.NewFromThis(),
		meshLevel: level,
		meshRMS:   rms,
	}
	level.ExpandInto(b.Level, box)
	rms.ExpandInto(b.RMS, box)

	logging.Debugf("background: %s\n", b)
	return b, nil
}

// fillHoles replaces NaN mesh cells with the median of the others.
func fillHoles(mesh *emath.FloatGrid) error {
	good := []float64{}
	for _, v := range mesh.Values() {
		if !math.IsNaN(v) {
			good = append(good, v)
		}
	}
	if len(good) == 0 {
		return fmt.Errorf("background: %w", ErrNoSky)
	}
	if len(good) == len(mesh.Values()) {
		return nil
	}
	m := emath.Median(good)
	for i, v := range mesh.Values() {
		if math.IsNaN(v) {
			mesh.Values()[i] = m
		}
	}
	return nil
}

// GlobalMedian is the median of the box levels.
func (b *Background) GlobalMedian() float64 { return emath.Median(b.meshLevel.Values()) }

// GlobalRMS is the median of the box RMS values.
func (b *Background) GlobalRMS() float64 { return emath.Median(b.meshRMS.Values()) }

// Threshold is a single detection threshold: nsigma RMS above the sky.
func (b *Background) Threshold(nsigma float64) float64 {
	return b.GlobalMedian() + nsigma*b.GlobalRMS()
}

// Subtract returns a copy of data with the background level removed.
func (b *Background) Subtract(data *emath.FloatGrid) (*emath.FloatGrid, error) {
	if data.Dx() != b.Level.Dx() || data.Dy() != b.Level.Dy() {
		return nil, fmt.Errorf("background subtract: %dx%d frame, %dx%d background",
			data.Dx(), data.Dy(), b.Level.Dx(), b.Level.Dy())
	}
	out := data.NewFromThis()
	floats.SubTo(out.Values(), data.Values(), b.Level.Values())
	return out, nil
}
