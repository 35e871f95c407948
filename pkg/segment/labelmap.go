package segment

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
)

// A LabelMap is a segmentation image: one integer label per pixel, the
// same shape as the frame it came from. 0 is background; every other
// value names one detected source.
type LabelMap struct {
	stride int
	labels []int32
}

func NewLabelMap(w, h int) *LabelMap {
	return &LabelMap{stride: w, labels: make([]int32, w*h)}
}

// NewLabelMapFromValues wraps a row-major slice of labels; it does not copy.
func NewLabelMapFromValues(w, h int, labels []int32) (*LabelMap, error) {
	if w <= 0 || h <= 0 || len(labels) != w*h {
		return nil, fmt.Errorf("label map %dx%d cannot hold %d labels", w, h, len(labels))
	}
	return &LabelMap{stride: w, labels: labels}, nil
}

func (lm *LabelMap) At(x, y int) int         { return int(lm.labels[lm.stride*y+x]) }
func (lm *LabelMap) Set(x, y int, l int)     { lm.labels[lm.stride*y+x] = int32(l) }
func (lm *LabelMap) Dx() int                 { return lm.stride }
func (lm *LabelMap) Values() []int32         { return lm.labels }
func (lm *LabelMap) Bounds() image.Rectangle { return image.Rect(0, 0, lm.Dx(), lm.Dy()) }

func (lm *LabelMap) Dy() int {
	if lm.stride == 0 {
		return 0
	}
	return len(lm.labels) / lm.stride
}

func (lm *LabelMap) Copy() *LabelMap {
	c := LabelMap{stride: lm.stride, labels: make([]int32, len(lm.labels))}
	copy(c.labels, lm.labels)
	return &c
}

func (lm *LabelMap) Equal(other *LabelMap) bool {
	if lm.stride != other.stride || len(lm.labels) != len(other.labels) {
		return false
	}
	for i := range lm.labels {
		if lm.labels[i] != other.labels[i] {
			return false
		}
	}
	return true
}

func (lm LabelMap) String() string {
	return fmt.Sprintf("LabelMap[%dx%d, %d labels]", lm.Dx(), lm.Dy(), lm.NLabels())
}

// Areas returns the pixel count of every non-zero label.
func (lm *LabelMap) Areas() map[int]int {
	areas := map[int]int{}
	for _, l := range lm.labels {
		if l != 0 {
			areas[int(l)]++
		}
	}
	return areas
}

func (lm *LabelMap) Area(label int) int { return lm.Areas()[label] }

// Labels returns the distinct non-zero labels, ascending.
func (lm *LabelMap) Labels() []int {
	areas := lm.Areas()
	labels := make([]int, 0, len(areas))
	for l := range areas {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

func (lm *LabelMap) NLabels() int { return len(lm.Areas()) }

func (lm *LabelMap) MaxLabel() int {
	max := 0
	for _, l := range lm.labels {
		if int(l) > max {
			max = int(l)
		}
	}
	return max
}

// Relabel renumbers the labels to 1..N with no gaps, keeping their
// relative order.
func (lm *LabelMap) Relabel() {
	remap := map[int32]int32{}
	for i, l := range lm.Labels() {
		remap[int32(l)] = int32(i + 1)
	}
	for i, l := range lm.labels {
		if l != 0 {
			lm.labels[i] = remap[l]
		}
	}
}

// RemoveLabels sets the given labels to background, optionally
// relabeling what remains.
func (lm *LabelMap) RemoveLabels(labels []int, relabel bool) {
	drop := map[int32]bool{}
	for _, l := range labels {
		drop[int32(l)] = true
	}
	for i, l := range lm.labels {
		if drop[l] {
			lm.labels[i] = 0
		}
	}
	if relabel {
		lm.Relabel()
	}
}

// BorderLabels returns the labels that have at least one pixel within
// width pixels of any edge of the map.
func (lm *LabelMap) BorderLabels(width int) []int {
	if width <= 0 {
		return nil
	}
	w, h := lm.Dx(), lm.Dy()
	seen := map[int]bool{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x >= width && y >= width && x < w-width && y < h-width {
				continue
			}
			if l := lm.At(x, y); l != 0 {
				seen[l] = true
			}
		}
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	return labels
}

// RemoveBorderLabels drops every region touching the border strip of
// the given width. A width of 0 leaves the map untouched.
func (lm *LabelMap) RemoveBorderLabels(width int, relabel bool) {
	if width <= 0 {
		return
	}
	lm.RemoveLabels(lm.BorderLabels(width), relabel)
}

// RemoveSmallLabels drops regions with fewer than npixels pixels.
func (lm *LabelMap) RemoveSmallLabels(npixels int, relabel bool) {
	small := []int{}
	for l, area := range lm.Areas() {
		if area < npixels {
			small = append(small, l)
		}
	}
	lm.RemoveLabels(small, relabel)
}

// Preview writes a PNG with each label in its own color, background black.
func (lm *LabelMap) Preview(title, filename string) error {
	img := image.NewRGBA(lm.Bounds())
	black := colorful.Color{}
	for y := 0; y < lm.Dy(); y++ {
		for x := 0; x < lm.Dx(); x++ {
			if l := lm.At(x, y); l == 0 {
				img.Set(x, y, black)
			} else {
				img.Set(x, y, labelColor(l))
			}
		}
	}

	dc := gg.NewContextForImage(img)
	if title != "" {
		dc.SetRGB(1, 1, 1)
		dc.DrawString(title, 10, 20)
	}
	return dc.SavePNG(filename)
}

// Walk the hue wheel by the golden angle so neighbouring labels differ.
func labelColor(l int) colorful.Color {
	hue := math.Mod(float64(l)*137.508, 360.0)
	return colorful.Hsv(hue, 0.7, 0.95)
}
