package emath

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Some functions that only operate on basic types, that are useful

// https://www.sjbrown.co.uk/posts/gamma-correct-rendering/ - "linear RGB to sRGB"
// f is assumed to be in the range [0,1]
func GammaExpand_F64(f float64) float64 {
	if f <= 0.0031308 {
		return 12.92 * f
	}
	return 1.055*math.Pow(f, 1.0/2.4) - 0.055
}

// Median sorts a copy of vals and returns the interpolated median.
func Median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return medianSorted(sorted)
}

func medianSorted(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return 0.5 * (sorted[n/2-1] + sorted[n/2])
}

// SigmaClip iteratively rejects values more than nsigma standard
// deviations from the median, and returns the median and standard
// deviation of what survives. NaNs are dropped up front. It stops early
// once an iteration rejects nothing.
func SigmaClip(vals []float64, nsigma float64, maxIters int) (median, stddev float64) {
	kept := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(kept)

	for i := 0; i < maxIters; i++ {
		median = medianSorted(kept)
		stddev = stat.PopStdDev(kept, nil)
		lo, hi := median-nsigma*stddev, median+nsigma*stddev

		// kept is sorted, so survivors are a contiguous run
		first := sort.SearchFloat64s(kept, lo)
		last := sort.Search(len(kept), func(j int) bool { return kept[j] > hi })
		if first == 0 && last == len(kept) {
			return median, stddev
		}
		if last <= first {
			break
		}
		kept = kept[first:last]
	}

	return medianSorted(kept), stat.PopStdDev(kept, nil)
}
