package segment

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/logging"
)

// Mode picks how the deblending thresholds are spaced between a
// segment's faintest and brightest pixel.
type Mode string

const (
	Exponential Mode = "exponential"
	Linear      Mode = "linear"
	Sinh        Mode = "sinh"
)

func (m Mode) Valid() bool { return m == Exponential || m == Linear || m == Sinh }

// thresholds returns nlevels values strictly between lo and hi.
func (m Mode) thresholds(nlevels int, lo, hi float64) []float64 {
	mode := m
	if mode == Exponential && lo <= 0 {
		logging.Debugf("deblend: segment minimum %g <= 0, using linear thresholds\n", lo)
		mode = Linear
	}

	levels := make([]float64, nlevels)
	for k := 1; k <= nlevels; k++ {
		f := float64(k) / float64(nlevels+1)
		switch mode {
		case Exponential:
			levels[k-1] = lo * math.Pow(hi/lo, f)
		case Sinh:
			const a = 0.25
			levels[k-1] = lo + (hi-lo)*math.Sinh(f/a)/math.Sinh(1/a)
		default:
			levels[k-1] = lo + (hi-lo)*f
		}
	}
	return levels
}

// A deblender splits segments that contain several blended sources,
// by walking up a ladder of thresholds and watching for the segment to
// break into separate islands.
type deblender struct {
	npixels  int
	conn     Connectivity
	nlevels  int
	contrast float64
	mode     Mode
}

func (d deblender) String() string {
	return fmt.Sprintf("deblender[npix=%d, conn=%d, nlevels=%d, contrast=%g, mode=%s]",
		d.npixels, d.conn, d.nlevels, d.contrast, d.mode)
}

// split deblends every segment of lm in place, then relabels.
func (d deblender) split(data *emath.FloatGrid, lm *LabelMap) {
	w := lm.Dx()
	segments := map[int][]int{}
	for i, l := range lm.labels {
		if l != 0 {
			segments[int(l)] = append(segments[int(l)], i)
		}
	}

	next := lm.MaxLabel() + 1
	nsplit := 0
	for _, label := range lm.Labels() {
		children := d.splitSegment(data, w, segments[label])
		if len(children) < 2 {
			continue
		}
		nsplit++
		// The first child keeps the parent's label
		for ci, child := range children[1:] {
			for _, idx := range child {
				lm.labels[idx] = int32(next + ci)
			}
		}
		next += len(children) - 1
	}

	if nsplit > 0 {
		logging.Debugf("deblend: split %d segments with %s\n", nsplit, d)
	}
	lm.Relabel()
}

// segmentWindow is a segment cut out into its bounding box, with
// local indexing (lx + ly*w).
type segmentWindow struct {
	x0, y0 int
	w, h   int
	in     []bool
	vals   []float64
	global []int // local index -> index into the full frame
}

func newSegmentWindow(data *emath.FloatGrid, stride int, pix []int) segmentWindow {
	minX, minY := math.MaxInt, math.MaxInt
	maxX, maxY := -1, -1
	for _, p := range pix {
		x, y := p%stride, p/stride
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}

	sw := segmentWindow{x0: minX, y0: minY, w: maxX - minX + 1, h: maxY - minY + 1}
	sw.in = make([]bool, sw.w*sw.h)
	sw.vals = make([]float64, sw.w*sw.h)
	sw.global = make([]int, sw.w*sw.h)
	for ly := 0; ly < sw.h; ly++ {
		for lx := 0; lx < sw.w; lx++ {
			sw.global[ly*sw.w+lx] = (ly+minY)*stride + lx + minX
		}
	}
	for _, p := range pix {
		x, y := p%stride, p/stride
		li := (y-minY)*sw.w + (x - minX)
		sw.in[li] = true
		sw.vals[li] = data.Get(x, y)
	}
	return sw
}

// splitSegment returns the pixel sets (frame indices) the segment
// should be split into, or nil if it should stay whole.
func (d deblender) splitSegment(data *emath.FloatGrid, stride int, pix []int) [][]int {
	if len(pix) < 2*max(d.npixels, 1) {
		return nil
	}
	sw := newSegmentWindow(data, stride, pix)

	lo, hi, total := math.MaxFloat64, -math.MaxFloat64, 0.0
	for i, in := range sw.in {
		if !in {
			continue
		}
		v := sw.vals[i]
		lo, hi = math.Min(lo, v), math.Max(hi, v)
		total += v
	}
	if lo == hi || total <= 0 {
		return nil
	}

	// Each marker is a set of local indices. Start with the whole
	// segment, and replace a marker by its children whenever a higher
	// threshold breaks it into >=2 islands that are each big and bright
	// enough to count as sources.
	markers := [][]int{}
	root := []int{}
	for i, in := range sw.in {
		if in {
			root = append(root, i)
		}
	}
	markers = append(markers, root)

	for _, level := range d.mode.thresholds(d.nlevels, lo, hi) {
		comps := labelComponents(sw.w, sw.h, d.conn, func(x, y int) bool {
			i := y*sw.w + x
			return sw.in[i] && sw.vals[i] > level
		})
		compPix := map[int][]int{}
		for i, l := range comps.labels {
			if l != 0 {
				compPix[int(l)] = append(compPix[int(l)], i)
			}
		}

		owner := make([]int, len(sw.in))
		for i := range owner {
			owner[i] = -1
		}
		for mi, m := range markers {
			for _, i := range m {
				owner[i] = mi
			}
		}

		children := make([][][]int, len(markers))
		for _, l := range comps.Labels() {
			cp := compPix[l]
			if len(cp) < max(d.npixels, 1) {
				continue
			}
			flux := 0.0
			for _, i := range cp {
				flux += sw.vals[i]
			}
			if flux/total < d.contrast {
				continue
			}
			if mi := owner[cp[0]]; mi >= 0 {
				children[mi] = append(children[mi], cp)
			}
		}

		next := [][]int{}
		for mi, m := range markers {
			if len(children[mi]) >= 2 {
				next = append(next, children[mi]...)
			} else {
				next = append(next, m)
			}
		}
		markers = next
	}

	if len(markers) < 2 {
		return nil
	}

	local := sw.watershed(markers, d.conn)

	out := make([][]int, len(markers))
	for i, l := range local {
		if l > 0 {
			out[l-1] = append(out[l-1], sw.global[i])
		}
	}
	return out
}

// watershed grows the markers out over the rest of the segment, always
// flooding the brightest unclaimed pixel next. Returns a local label
// per pixel, 1-based by marker order.
func (sw segmentWindow) watershed(markers [][]int, conn Connectivity) []int {
	labels := make([]int, len(sw.in))
	pq := &pixelQueue{}
	order := 0

	for mi, m := range markers {
		for _, i := range m {
			labels[i] = mi + 1
		}
	}
	for _, m := range markers {
		for _, i := range m {
			heap.Push(pq, queuedPixel{idx: i, val: sw.vals[i], order: order})
			order++
		}
	}

	offsets := conn.offsets()
	for pq.Len() > 0 {
		p := heap.Pop(pq).(queuedPixel)
		px, py := p.idx%sw.w, p.idx/sw.w
		for _, o := range offsets {
			x, y := px+o[0], py+o[1]
			if x < 0 || y < 0 || x >= sw.w || y >= sw.h {
				continue
			}
			i := y*sw.w + x
			if !sw.in[i] || labels[i] != 0 {
				continue
			}
			labels[i] = labels[p.idx]
			heap.Push(pq, queuedPixel{idx: i, val: sw.vals[i], order: order})
			order++
		}
	}

	return labels
}

type queuedPixel struct {
	idx   int
	val   float64
	order int
}

// pixelQueue pops the brightest pixel first; ties go to whichever was
// queued earliest, which keeps the flood deterministic.
type pixelQueue []queuedPixel

func (q pixelQueue) Len() int { return len(q) }
func (q pixelQueue) Less(i, j int) bool {
	if q[i].val != q[j].val {
		return q[i].val > q[j].val
	}
	return q[i].order < q[j].order
}
func (q pixelQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pixelQueue) Push(x any)   { *q = append(*q, x.(queuedPixel)) }
func (q *pixelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
