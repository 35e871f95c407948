package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/fogleman/gg" // Move to https://pkg.go.dev/golang.org/x/image/font#Drawer sometime
)

// A FloatGrid is a grid of floats, with some operations. Values are
// stored row-major: (x,y) lives at values[stride*y + x], which is also
// the order FITS expects its pixels in.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) *FloatGrid {
	return &FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFromValues wraps an existing row-major slice; it does not copy.
func NewFloatGridFromValues(w, h int, values []float64) (*FloatGrid, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("bad grid dimensions %dx%d", w, h)
	}
	if len(values) != w*h {
		return nil, fmt.Errorf("grid %dx%d needs %d values, got %d", w, h, w*h, len(values))
	}
	return &FloatGrid{stride: w, values: values}, nil
}

func (fg *FloatGrid) NewFromThis() *FloatGrid { return NewFloatGrid(fg.Dx(), fg.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Add(x, y int, v float64) { fg.values[fg.stride*y+x] += v }
func (fg *FloatGrid) Mul(x, y int, v float64) { fg.values[fg.stride*y+x] *= v }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Values() []float64       { return fg.values }
func (fg *FloatGrid) In(x, y int) bool        { return x >= 0 && y >= 0 && x < fg.Dx() && y < fg.Dy() }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (fg *FloatGrid) Empty() bool { return fg == nil || len(fg.values) == 0 }

func (fg *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: fg.stride, values: make([]float64, len(fg.values))}
	copy(g2.values, fg.values)
	return &g2
}

func (fg *FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// GaussianBlur does a cheap 1-2-1 blur in each direction; used to
// smooth frames a little before thresholding.
func (fg *FloatGrid) GaussianBlur() *FloatGrid {
	width := fg.Dx()
	height := fg.Dy()
	g2 := fg.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, fg.values)
		return g2
	}

	T := fg.NewFromThis()

	//--- X blur, build up in T
	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			t := 2.0 * fg.Get(x, y)
			t += fg.Get(x-1, y)
			t += fg.Get(x+1, y)
			T.Set(x, y, t/4.0)
		}
		T.Set(0, y, (3.0*fg.Get(0, y)+fg.Get(1, y))/4.0)
		T.Set(width-1, y, (3.0*fg.Get(width-1, y)+fg.Get(width-2, y))/4.0)
	}

	//--- Y blur, read from T and generate output
	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			t := 2.0 * T.Get(x, y)
			t += T.Get(x, y-1)
			t += T.Get(x, y+1)
			g2.Set(x, y, t/4.0)
		}
		g2.Set(x, 0, (3.0*T.Get(x, 0)+T.Get(x, 1))/4.0)
		g2.Set(x, height-1, (3.0*T.Get(x, height-1)+T.Get(x, height-2))/4.0)
	}

	return g2
}

// ExpandInto populates a grid `B` which is assumed to be `box` times as
// big (rounded up) as `A`, copying each value of A into a box*box block
// of B. The last row/col of A covers any ragged edge of B.
func (A *FloatGrid) ExpandInto(B *FloatGrid, box int) {
	awidth := A.Dx()
	aheight := A.Dy()

	for y := 0; y < B.Dy(); y++ {
		for x := 0; x < B.Dx(); x++ {
			ax := x / box
			ay := y / box
			if ax >= awidth {
				ax = awidth - 1
			}
			if ay >= aheight {
				ay = aheight - 1
			}
			B.Set(x, y, A.Get(ax, ay))
		}
	}
}

// FindMinMaxAtPercentile returns the values at the two percentiles
// (0.0 -> 1.0), ignoring NaNs.
func (fg *FloatGrid) FindMinMaxAtPercentile(minPrct, maxPrct float64) (float64, float64) {
	vals := make([]float64, 0, len(fg.values))
	for _, v := range fg.values {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}

	sort.Float64s(vals)

	iMin := int(minPrct * float64(len(vals)))
	iMax := int(maxPrct * float64(len(vals)))
	if iMin < 0 {
		iMin = 0
	}
	if iMax >= len(vals) {
		iMax = len(vals) - 1
	}

	return vals[iMin], vals[iMax]
}

func (fg *FloatGrid) MinMax() (float64, float64) {
	min := math.MaxFloat64
	max := -1.0 * min
	for _, v := range fg.values {
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	return min, max
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, stretched between the 0.5 and 99.5
// percentiles of the grid and gamma scaled to look normal for human
// vision. If title is non-empty it gets drawn in the top left.
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := fg.FindMinMaxAtPercentile(0.005, 0.995)
	if max <= min {
		max = min + 1
	}

	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), fg.Dy()}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < fg.Dy(); y++ {
			lum := (fg.Get(x, y) - min) / (max - min)
			lum = math.Max(0, math.Min(1, lum))
			gray := uint16(GammaExpand_F64(lum) * 65535.0)
			img.Set(x, y, color.RGBA64{gray, gray, gray, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	if title != "" {
		dc.SetRGB(1, 1, 0)
		dc.DrawString(title, 10, 20)
	}
	return dc.SavePNG(filename)
}
