package segment

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/opticam/pkg/emath"
)

// gridWithBlocks returns a w*h grid of zeros, with each rect (x0,y0,x1,y1
// inclusive) filled with v.
func gridWithBlocks(w, h int, v float64, rects ...[4]int) *emath.FloatGrid {
	g := emath.NewFloatGrid(w, h)
	for _, r := range rects {
		for y := r[1]; y <= r[3]; y++ {
			for x := r[0]; x <= r[2]; x++ {
				g.Set(x, y, v)
			}
		}
	}
	return g
}

// twoBlendedStars has two bright sources close enough that their
// wings merge at low thresholds.
func twoBlendedStars() *emath.FloatGrid {
	g := emath.NewFloatGrid(40, 20)
	emath.Gaussian2D{X: 12, Y: 10, Amplitude: 100, SigmaX: 2.5, SigmaY: 2.5}.AddTo(g)
	emath.Gaussian2D{X: 24, Y: 10, Amplitude: 100, SigmaX: 2.5, SigmaY: 2.5}.AddTo(g)
	return g
}

func assertContiguous(t *testing.T, lm *LabelMap) {
	t.Helper()
	for i, l := range lm.Labels() {
		assert.Equal(t, i+1, l, "labels must run 1..N with no gaps")
	}
}

func TestLabelComponents_Connectivity(t *testing.T) {
	// Two pixels touching only at a corner
	g := emath.NewFloatGrid(4, 4)
	g.Set(1, 1, 1)
	g.Set(2, 2, 1)
	in := func(x, y int) bool { return g.Get(x, y) > 0 }

	assert.Equal(t, 1, labelComponents(4, 4, Eight, in).NLabels())
	assert.Equal(t, 2, labelComponents(4, 4, Four, in).NLabels())
}

func TestDetectSources_RasterOrderAndMinPixels(t *testing.T) {
	g := gridWithBlocks(20, 20, 10,
		[4]int{10, 2, 12, 4}, // 9 pixels, first in raster order
		[4]int{2, 8, 3, 9},   // 4 pixels
		[4]int{5, 15, 7, 17}, // 9 pixels
	)

	lm, err := detectSources(g, 5, 1, Eight)
	require.NoError(t, err)
	assert.Equal(t, 3, lm.NLabels())
	assert.Equal(t, 1, lm.At(11, 3))
	assert.Equal(t, 2, lm.At(2, 8))
	assert.Equal(t, 3, lm.At(6, 16))

	lm, err = detectSources(g, 5, 5, Eight)
	require.NoError(t, err)
	assert.Equal(t, 2, lm.NLabels())
	assert.Equal(t, 0, lm.At(2, 8), "small source dropped")
	assert.Equal(t, 2, lm.At(6, 16), "relabeled to close the gap")
	assertContiguous(t, lm)
}

func TestDetectSources_ThresholdIsStrict(t *testing.T) {
	g := gridWithBlocks(5, 5, 5, [4]int{1, 1, 2, 2})
	lm, err := detectSources(g, 5, 1, Eight)
	require.NoError(t, err)
	assert.Equal(t, 0, lm.NLabels())
}

func TestDetect_Errors(t *testing.T) {
	f, err := NewFinder(DefaultFinderConfig())
	require.NoError(t, err)

	_, err = f.Detect(emath.NewFloatGrid(0, 0), 1)
	assert.ErrorIs(t, err, ErrEmptyImage)

	g := emath.NewFloatGrid(4, 4)
	_, err = f.Detect(g, math.NaN())
	assert.ErrorIs(t, err, ErrBadThreshold)
	_, err = f.Detect(g, math.Inf(1))
	assert.ErrorIs(t, err, ErrBadThreshold)
}

func TestRemoveBorderLabels_ZeroWidthIsNoop(t *testing.T) {
	g := gridWithBlocks(30, 30, 10, [4]int{0, 10, 2, 12}, [4]int{14, 14, 16, 16})

	raw, err := detectSources(g, 5, 1, Eight)
	require.NoError(t, err)

	f, err := NewFinder(FinderConfig{Connectivity: Eight, BorderWidth: 0})
	require.NoError(t, err)
	lm, err := f.Detect(g, 5)
	require.NoError(t, err)

	if diff := cmp.Diff(raw.Values(), lm.Values()); diff != "" {
		t.Errorf("border width 0 changed the labeling (-raw +got):\n%s", diff)
	}
}

func TestRemoveBorderLabels(t *testing.T) {
	g := gridWithBlocks(30, 30, 10,
		[4]int{0, 10, 2, 12},   // touches left edge
		[4]int{26, 2, 28, 4},   // within 3 of the right edge
		[4]int{14, 14, 16, 16}, // well inside
		[4]int{20, 20, 22, 22}, // inside, ends 7 from the edge
	)

	const width = 3
	f, err := NewFinder(FinderConfig{Connectivity: Eight, BorderWidth: width})
	require.NoError(t, err)
	lm, err := f.Detect(g, 5)
	require.NoError(t, err)

	assert.Equal(t, 2, lm.NLabels())
	assertContiguous(t, lm)

	for y := 0; y < lm.Dy(); y++ {
		for x := 0; x < lm.Dx(); x++ {
			nearEdge := x < width || y < width || x >= lm.Dx()-width || y >= lm.Dy()-width
			if nearEdge {
				assert.Equal(t, 0, lm.At(x, y), "labeled pixel at (%d,%d) inside the border", x, y)
			}
		}
	}
}

func TestRemoveBorderLabels_WideBorderRemovesAll(t *testing.T) {
	lm, err := detectSources(gridWithBlocks(10, 10, 1, [4]int{4, 4, 5, 5}), 0, 1, Eight)
	require.NoError(t, err)
	lm.RemoveBorderLabels(6, true)
	assert.Equal(t, 0, lm.NLabels())
}

func TestRelabel_PreservesOrder(t *testing.T) {
	lm, err := NewLabelMapFromValues(4, 1, []int32{7, 0, 3, 7})
	require.NoError(t, err)
	lm.Relabel()
	assert.Equal(t, []int32{2, 0, 1, 2}, lm.Values())
}

func TestCrowdedFinder_SplitsBlendedSources(t *testing.T) {
	g := twoBlendedStars()

	f, err := NewFinder(FinderConfig{NPixels: 5, Connectivity: Eight})
	require.NoError(t, err)
	lm, err := f.Detect(g, 5)
	require.NoError(t, err)
	require.Equal(t, 1, lm.NLabels(), "the plain finder sees one merged blob")

	for _, mode := range []Mode{Exponential, Linear, Sinh} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := DefaultCrowdedFinderConfig()
			cfg.NPixels = 5
			cfg.Mode = mode
			cf, err := NewCrowdedFinder(cfg)
			require.NoError(t, err)

			lm, err := cf.Detect(g, 5)
			require.NoError(t, err)
			assert.Equal(t, 2, lm.NLabels())
			assertContiguous(t, lm)

			left, right := lm.At(12, 10), lm.At(24, 10)
			assert.NotZero(t, left)
			assert.NotZero(t, right)
			assert.NotEqual(t, left, right)

			// Splitting must not change the footprint
			for i, l := range lm.Values() {
				assert.Equal(t, l == 0, g.Values()[i] <= 5)
			}
		})
	}
}

func TestCrowdedFinder_HighContrastKeepsBlend(t *testing.T) {
	cfg := DefaultCrowdedFinderConfig()
	cfg.NPixels = 5
	cfg.Contrast = 0.9 // neither half holds 90% of the flux
	cf, err := NewCrowdedFinder(cfg)
	require.NoError(t, err)

	lm, err := cf.Detect(twoBlendedStars(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, lm.NLabels())
}

func TestCrowdedFinder_FlatSegmentUntouched(t *testing.T) {
	cf, err := NewCrowdedFinder(DefaultCrowdedFinderConfig())
	require.NoError(t, err)
	lm, err := cf.Detect(gridWithBlocks(10, 10, 3, [4]int{2, 2, 6, 6}), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, lm.NLabels())
	assert.Equal(t, 25, lm.Area(1))
}

func TestParams_Order(t *testing.T) {
	f, err := NewFinder(FinderConfig{NPixels: 3, Connectivity: Four, BorderWidth: 2})
	require.NoError(t, err)
	assert.Equal(t, Params{{"npixels", 3}, {"connectivity", 4}, {"border_width", 2}}, f.Params())

	cf, err := NewCrowdedFinder(DefaultCrowdedFinderConfig())
	require.NoError(t, err)
	keys := []string{}
	for _, p := range cf.Params() {
		keys = append(keys, p.Key)
	}
	assert.Equal(t, []string{"npixels", "connectivity", "nlevels", "contrast", "mode", "border_width"}, keys)
	assert.Equal(t, "exponential", cf.Params().Map()["mode"])
}

func TestNewDetectorFromParams_RoundTrip(t *testing.T) {
	cfg := CrowdedFinderConfig{NPixels: 5, Connectivity: Four, NLevels: 16, Contrast: 0.01, Mode: Sinh, BorderWidth: 2}
	orig, err := NewCrowdedFinder(cfg)
	require.NoError(t, err)

	rebuilt, err := NewDetectorFromParams(orig.Params())
	require.NoError(t, err)
	require.IsType(t, &CrowdedFinder{}, rebuilt)
	assert.Equal(t, cfg, rebuilt.(*CrowdedFinder).Config())

	g := twoBlendedStars()
	want, err := orig.Detect(g, 5)
	require.NoError(t, err)
	got, err := rebuilt.Detect(g, 5)
	require.NoError(t, err)
	if diff := cmp.Diff(want.Values(), got.Values()); diff != "" {
		t.Errorf("rebuilt detector differs (-want +got):\n%s", diff)
	}

	plain, err := NewFinder(FinderConfig{NPixels: 2, Connectivity: Eight, BorderWidth: 1})
	require.NoError(t, err)
	rebuiltPlain, err := NewDetectorFromParams(plain.Params())
	require.NoError(t, err)
	require.IsType(t, &Finder{}, rebuiltPlain)
	assert.Equal(t, plain.Config(), rebuiltPlain.(*Finder).Config())
}

func TestNewDetectorFromParams_Errors(t *testing.T) {
	_, err := NewDetectorFromParams(Params{{"bogus", 1}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDetectorFromParams(Params{{"npixels", "five"}})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewDetectorFromParams(Params{{"connectivity", 6}})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigValidation(t *testing.T) {
	bad := []CrowdedFinderConfig{
		{NPixels: -1, Connectivity: Eight, NLevels: 1, Mode: Linear},
		{Connectivity: 6, NLevels: 1, Mode: Linear},
		{Connectivity: Eight, NLevels: 0, Mode: Linear},
		{Connectivity: Eight, NLevels: 1, Contrast: 1.5, Mode: Linear},
		{Connectivity: Eight, NLevels: 1, Contrast: math.NaN(), Mode: Linear},
		{Connectivity: Eight, NLevels: 1, Mode: "cubic"},
		{Connectivity: Eight, NLevels: 1, Mode: Linear, BorderWidth: -2},
	}
	for _, c := range bad {
		_, err := NewCrowdedFinder(c)
		assert.True(t, errors.Is(err, ErrInvalidConfig), "%+v should be rejected", c)
	}

	_, err := NewFinder(FinderConfig{Connectivity: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestModeThresholds(t *testing.T) {
	for _, mode := range []Mode{Exponential, Linear, Sinh} {
		levels := mode.thresholds(8, 2, 100)
		require.Len(t, levels, 8)
		prev := 2.0
		for _, l := range levels {
			assert.Greater(t, l, prev, "mode %s", mode)
			prev = l
		}
		assert.Less(t, prev, 100.0)
	}

	assert.InDeltaSlice(t, []float64{25, 50, 75}, Linear.thresholds(3, 0, 100), 1e-9)
	// Exponential falls back to linear when the minimum is not positive
	assert.InDeltaSlice(t, []float64{25, 50, 75}, Exponential.thresholds(3, 0, 100), 1e-9)
}

func TestDetectorConfig_Yaml(t *testing.T) {
	c, err := NewDetectorConfigFromYaml([]byte("kind: crowded\nnlevels: 8\nmode: linear\nborder_width: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, 8, c.Connectivity, "unset fields keep their defaults")
	assert.Equal(t, 0.001, c.Contrast)

	d, err := c.Build()
	require.NoError(t, err)
	cf, ok := d.(*CrowdedFinder)
	require.True(t, ok)
	assert.Equal(t, 8, cf.Config().NLevels)
	assert.Equal(t, Linear, cf.Config().Mode)
	assert.Equal(t, 4, cf.Config().BorderWidth)

	again, err := NewDetectorConfigFromYaml([]byte(c.AsYaml()))
	require.NoError(t, err)
	assert.Equal(t, c, again)

	_, err = DetectorConfig{Kind: "psf"}.Build()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadDetectorConfig_Missing(t *testing.T) {
	_, err := LoadDetectorConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLabelMap_Preview(t *testing.T) {
	lm, err := detectSources(twoBlendedStars(), 5, 1, Eight)
	require.NoError(t, err)
	fn := filepath.Join(t.TempDir(), "labels.png")
	require.NoError(t, lm.Preview("labels", fn))
	assert.FileExists(t, fn)
}
