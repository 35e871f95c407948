// Package catalog turns label maps into source measurements, keeps them
// in a sqlite database, and pulls light curves back out.
package catalog

import (
	"fmt"
	"image"
	"math"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/segment"
)

// Source is the measurement of one labeled region.
type Source struct {
	Label int
	Area  int     // pixels
	Flux  float64 // sum of pixel values
	Peak  float64
	X, Y  float64 // flux weighted centroid
	BBox  image.Rectangle
}

func (s Source) String() string {
	return fmt.Sprintf("src#%d[(%.2f,%.2f), area=%d, flux=%.1f, peak=%.1f]", s.Label, s.X, s.Y, s.Area, s.Flux, s.Peak)
}

// Measure returns one Source per label, ordered by label. Pass in
// background subtracted data, or the fluxes include the sky.
func Measure(data *emath.FloatGrid, labels *segment.LabelMap) ([]Source, error) {
	if data.Dx() != labels.Dx() || data.Dy() != labels.Dy() {
		return nil, fmt.Errorf("measure: %dx%d data, %dx%d labels", data.Dx(), data.Dy(), labels.Dx(), labels.Dy())
	}

	type acc struct {
		Source
		sx, sy  float64 // flux weighted sums
		ux, uy  float64 // unweighted sums
		posFlux float64
		seen    bool
	}
	accs := make([]acc, labels.MaxLabel()+1)

	for y := 0; y < data.Dy(); y++ {
		for x := 0; x < data.Dx(); x++ {
			l := labels.At(x, y)
			if l == 0 {
				continue
			}
			a := &accs[l]
			v := data.Get(x, y)
			if !a.seen {
				a.seen = true
				a.Label = l
				a.Peak = v
			}
			a.Area++
			a.Flux += v
			a.Peak = math.Max(a.Peak, v)
			a.ux += float64(x)
			a.uy += float64(y)
			if v > 0 {
				a.sx += v * float64(x)
				a.sy += v * float64(y)
				a.posFlux += v
			}
			a.BBox = emath.GrowRect(a.BBox, x, y)
		}
	}

	out := []Source{}
	for _, a := range accs {
		if !a.seen {
			continue
		}
		s := a.Source
		if a.posFlux > 0 {
			s.X, s.Y = a.sx/a.posFlux, a.sy/a.posFlux
		} else {
			s.X, s.Y = a.ux/float64(a.Area), a.uy/float64(a.Area)
		}
		out = append(out, s)
	}
	return out, nil
}
