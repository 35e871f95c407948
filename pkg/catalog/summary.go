package catalog

import (
	"fmt"
	"math"

	"github.com/codahale/hdrhistogram"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/logging"
)

// Pixel values are histogrammed at this resolution.
const summaryScale = 1000.0

// PixelSummary is a cheap percentile view of a frame's pixel values.
type PixelSummary struct {
	Count         int64
	Min, Max      float64
	P50, P90, P99 float64
}

func (s PixelSummary) String() string {
	return fmt.Sprintf("n=%d min=%.2f p50=%.2f p90=%.2f p99=%.2f max=%.2f", s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}

// Summary histograms the finite pixel values; NaN and Inf are left out. Percentiles are good to
// about three significant figures of the value's distance above the min.
func Summary(data *emath.FloatGrid) PixelSummary {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data.Values() {
		if isFinite(v) {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if lo > hi {
		return PixelSummary{}
	}

	// hdrhistogram wants positive int64s, so shift everything up by lo
	toInt := func(v float64) int64 { return 1 + int64(math.Round((v-lo)*summaryScale)) }
	fromInt := func(n int64) float64 { return lo + float64(n-1)/summaryScale }

	h := hdrhistogram.New(1, toInt(hi)+1, 3)
	for _, v := range data.Values() {
		if !isFinite(v) {
			continue
		}
		if err := h.RecordValue(toInt(v)); err != nil {
			logging.Debugf("summary: %g: %v\n", v, err)
		}
	}

	return PixelSummary{
		Count: h.TotalCount(),
		Min:   lo,
		Max:   hi,
		P50:   math.Min(hi, fromInt(h.ValueAtQuantile(50))),
		P90:   math.Min(hi, fromInt(h.ValueAtQuantile(90))),
		P99:   math.Min(hi, fromInt(h.ValueAtQuantile(99))),
	}
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
