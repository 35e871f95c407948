// Package synth generates synthetic flat-field and observation frames,
// for testing and for following the tutorials without a telescope.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/abworrall/opticam/pkg/emath"
)

const (
	fullSize   = 2048 // Unbinned sensor width and height
	skyLevel   = 100.0
	edgeMargin = 64 // Unbinned pixels kept clear of sources at each edge

	obsDate = "240101"
)

// BaseFrame is an empty sky: a flat level of 100 with sqrt(100) sigma
// gaussian noise. The noise is seeded by index, so a given index always
// produces the same frame. Binning below 1 is taken as 1.
func BaseFrame(index, binning int) *emath.FloatGrid {
	side := fullSize / max(binning, 1)
	g := emath.NewFloatGrid(side, side)

	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(uint64(index), 0)}
	vals := g.Values()
	for i := range vals {
		vals[i] = skyLevel + math.Sqrt(skyLevel)*noise.Rand()
	}
	return g
}

// ApplyFlatField darkens the frame outside a circle, the way a
// circular aperture vignettes a square sensor. The circle is centered
// on the frame and its radius is half the height; beyond it pixels are
// scaled by 1/(d/r)^2.
func ApplyFlatField(g *emath.FloatGrid) {
	cx, cy := g.Dx()/2, g.Dy()/2
	r := float64(g.Dy() / 2)
	if r == 0 {
		return
	}

	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if f := FlatFieldFactor(x-cx, y-cy, r); f != 1 {
				g.Mul(x, y, f)
			}
		}
	}
}

// FlatFieldFactor is the multiplier for a pixel at offset (dx,dy) from
// the center, given the aperture radius r.
func FlatFieldFactor(dx, dy int, r float64) float64 {
	d := math.Hypot(float64(dx), float64(dy))
	if d < r {
		return 1
	}
	return 1 / ((d / r) * (d / r))
}

// Source is a point source, drawn as a rotated 2D gaussian.
type Source struct {
	X, Y           float64
	PeakFlux       float64
	SigmaX, SigmaY float64
	Theta          float64 // radians
}

func (s Source) String() string {
	return fmt.Sprintf("Source[(%.2f,%.2f), peak=%.1f]", s.X, s.Y, s.PeakFlux)
}

func (s Source) profile() emath.Gaussian2D {
	return emath.Gaussian2D{
		X:         s.X,
		Y:         s.Y,
		Amplitude: s.PeakFlux,
		SigmaX:    s.SigmaX,
		SigmaY:    s.SigmaY,
		Theta:     s.Theta,
	}
}

// AddTo adds the source's flux to every pixel of the grid.
func (s Source) AddTo(g *emath.FloatGrid) { s.profile().AddTo(g) }

// VariableFlux is the offset added to the variable source's peak in
// frame i: a sinusoid with amplitude 50 and a period of 5 frames.
func VariableFlux(i int) float64 {
	return 50 * math.Sin(2*math.Pi*float64(i)*0.2)
}

// ObservationTime is the UT header value for frame i, which is taken i
// seconds after midnight on 2024-01-01.
func ObservationTime(i int) string {
	return fmt.Sprintf("2024-01-01 %02d:%02d:%02d", i/3600, i%3600/60, i%60)
}

func ObservationFilename(filter string, i int) string {
	return fmt.Sprintf("%s%s%do.fits.gz", obsDate, filter, 200000000+i)
}

func FlatFilename(filter string, i int) string {
	return fmt.Sprintf("%s-band_flat_%d.fits.gz", filter, i)
}

// GuardFilename is the file whose presence makes generation skip a
// frame when not overwriting. Note that it is not the name of any file
// the generator writes, so on its own it never fires.
func GuardFilename(filter string, i int) string {
	return fmt.Sprintf("%s-band_image_%d.fits", filter, i)
}

// Sources places the configured number of sources, with positions and
// peak fluxes drawn from a generator seeded by c.Seed. Positions stay
// clear of the frame edges.
func (c Config) Sources() []Source {
	src := rand.NewPCG(c.Seed, 0)
	b := float64(c.Binning)
	pos := distuv.Uniform{
		Min: math.Trunc(edgeMargin / b),
		Max: math.Trunc(fullSize/b - edgeMargin/b),
		Src: src,
	}
	peak := distuv.Uniform{Min: 100, Max: 1000, Src: src}

	sources := make([]Source, c.NSources)
	for j := range sources {
		sources[j].X = pos.Rand()
		sources[j].Y = pos.Rand()
	}
	for j := range sources {
		sources[j].PeakFlux = peak.Rand()
		sources[j].SigmaX, sources[j].SigmaY = 1, 1
	}
	return sources
}

// observationSources returns the sources as they appear in frame i,
// with the variable one adjusted.
func (c Config) observationSources(sources []Source, i int) []Source {
	out := append([]Source(nil), sources...)
	if c.VariableSource >= 0 && c.VariableSource < len(out) {
		out[c.VariableSource].PeakFlux += VariableFlux(i)
	}
	return out
}

func (c Config) binningHeader() string { return fmt.Sprintf("%dx%d", c.Binning, c.Binning) }
