package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/abworrall/opticam/pkg/emath"
)

var (
	ErrInvalidConfig = errors.New("invalid detector config")
	ErrEmptyImage    = errors.New("image has no pixels")
	ErrBadThreshold  = errors.New("threshold is not finite")
)

// Connectivity says which neighbours count as touching: Four excludes
// diagonals, Eight includes them.
type Connectivity int

const (
	Four  Connectivity = 4
	Eight Connectivity = 8
)

func (c Connectivity) Valid() bool { return c == Four || c == Eight }

func (c Connectivity) offsets() [][2]int {
	if c == Four {
		return [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}
	}
	return [][2]int{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}
}

// labelComponents floodfills every connected run of pixels for which
// in(x,y) is true. Labels are handed out in raster-scan order of each
// component's first pixel, starting at 1.
func labelComponents(w, h int, conn Connectivity, in func(x, y int) bool) *LabelMap {
	lm := NewLabelMap(w, h)
	offsets := conn.offsets()
	next := 0

	toVisit := []int{}
	for y0 := 0; y0 < h; y0++ {
		for x0 := 0; x0 < w; x0++ {
			if lm.At(x0, y0) != 0 || !in(x0, y0) {
				continue
			}
			next++
			lm.Set(x0, y0, next)

			toVisit = append(toVisit[:0], y0*w+x0)
			for len(toVisit) > 0 {
				p := toVisit[len(toVisit)-1]
				toVisit = toVisit[:len(toVisit)-1]
				px, py := p%w, p/w

				for _, o := range offsets {
					x, y := px+o[0], py+o[1]
					if x < 0 || y < 0 || x >= w || y >= h {
						continue
					}
					if lm.At(x, y) != 0 || !in(x, y) {
						continue
					}
					lm.Set(x, y, next)
					toVisit = append(toVisit, y*w+x)
				}
			}
		}
	}

	return lm
}

// detectSources thresholds the grid, labels what is left, and drops
// anything smaller than npixels. This is the labeling core both finder
// variants sit on; its errors are passed straight through to callers.
func detectSources(data *emath.FloatGrid, threshold float64, npixels int, conn Connectivity) (*LabelMap, error) {
	if data.Empty() {
		return nil, ErrEmptyImage
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("detect at %v: %w", threshold, ErrBadThreshold)
	}

	lm := labelComponents(data.Dx(), data.Dy(), conn, func(x, y int) bool {
		return data.Get(x, y) > threshold
	})
	if npixels > 1 {
		lm.RemoveSmallLabels(npixels, true)
	}

	return lm, nil
}
