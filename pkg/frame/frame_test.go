package frame

import (
	"bytes"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/fsutil"
)

func testFrame(t *testing.T) Frame {
	t.Helper()
	g := emath.NewFloatGrid(7, 5)
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			g.Set(x, y, float64(x)+0.5*float64(y)-1.25)
		}
	}
	return Frame{Data: g, Filter: "r", Binning: "8x8", Gain: 1.0, UT: "2024-01-01 00:00:07"}
}

func assertSameFrame(t *testing.T, want, got Frame) {
	t.Helper()
	assert.Equal(t, want.Filter, got.Filter)
	assert.Equal(t, want.Binning, got.Binning)
	assert.Equal(t, want.Gain, got.Gain)
	assert.Equal(t, want.UT, got.UT)
	require.Equal(t, want.Data.Dx(), got.Data.Dx())
	require.Equal(t, want.Data.Dy(), got.Data.Dy())
	if diff := cmp.Diff(want.Data.Values(), got.Data.Values()); diff != "" {
		t.Errorf("pixels differ (-want +got):\n%s", diff)
	}
}

func TestWriteRead(t *testing.T) {
	f := testFrame(t)

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	assert.Equal(t, 0, buf.Len()%2880, "FITS files come in 2880 byte blocks")

	got, err := Read(&buf)
	require.NoError(t, err)
	assertSameFrame(t, f, got)
}

func TestWriteFile_GzipRoundTrip(t *testing.T) {
	for _, name := range []string{"plain.fits", "packed.fits.gz"} {
		t.Run(name, func(t *testing.T) {
			mfs := fsutil.NewMemoryFileSystem()
			f := testFrame(t)
			require.NoError(t, f.WriteFile(mfs, "/out/"+name, false))

			raw, err := mfs.ReadFile("/out/" + name)
			require.NoError(t, err)
			isGzip := len(raw) > 2 && raw[0] == 0x1f && raw[1] == 0x8b
			assert.Equal(t, filepath.Ext(name) == ".gz", isGzip)

			got, err := ReadFile(mfs, "/out/"+name)
			require.NoError(t, err)
			assertSameFrame(t, f, got)
		})
	}
}

func TestWriteFile_NoOverwrite(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "x.fits.gz")
	fsys := fsutil.OSFileSystem{}

	f := testFrame(t)
	require.NoError(t, f.WriteFile(fsys, fn, false))
	before, err := fsys.ReadFile(fn)
	require.NoError(t, err)

	f.Filter = "g"
	err = f.WriteFile(fsys, fn, false)
	assert.ErrorIs(t, err, fs.ErrExist)
	after, err := fsys.ReadFile(fn)
	require.NoError(t, err)
	assert.Equal(t, before, after, "refused write must not touch the file")

	require.NoError(t, f.WriteFile(fsys, fn, true))
	got, err := ReadFile(fsys, fn)
	require.NoError(t, err)
	assert.Equal(t, "g", got.Filter)
}

func TestWrite_EmptyFrame(t *testing.T) {
	var buf bytes.Buffer
	err := Frame{Data: emath.NewFloatGrid(0, 0)}.Write(&buf)
	assert.ErrorIs(t, err, ErrNotImage)
}

func writeRawImage(t *testing.T, bitpix int, pixels any, cards ...fitsio.Card) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	fits, err := fitsio.Create(&buf)
	require.NoError(t, err)
	img := fitsio.NewImage(bitpix, []int{3, 2})
	if len(cards) > 0 {
		require.NoError(t, img.Header().Append(cards...))
	}
	require.NoError(t, img.Write(pixels))
	require.NoError(t, fits.Write(img))
	require.NoError(t, img.Close())
	require.NoError(t, fits.Close())
	return &buf
}

func TestRead_EveryBitpix(t *testing.T) {
	want := []float64{0, 1, 2, 3, 4, 5}
	tests := []struct {
		bitpix int
		pixels any
	}{
		{8, []uint8{0, 1, 2, 3, 4, 5}},
		{16, []int16{0, 1, 2, 3, 4, 5}},
		{32, []int32{0, 1, 2, 3, 4, 5}},
		{64, []int64{0, 1, 2, 3, 4, 5}},
		{-32, []float32{0, 1, 2, 3, 4, 5}},
		{-64, []float64{0, 1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("bitpix=%d", tt.bitpix), func(t *testing.T) {
			got, err := Read(writeRawImage(t, tt.bitpix, tt.pixels))
			require.NoError(t, err)
			assert.Equal(t, 3, got.Data.Dx())
			assert.Equal(t, 2, got.Data.Dy())
			if diff := cmp.Diff(want, got.Data.Values()); diff != "" {
				t.Errorf("pixels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRead_IntegerImage(t *testing.T) {
	buf := writeRawImage(t, 16, []int16{0, 1, 2, -3, -4, 5}, fitsio.Card{Name: "BZERO", Value: 100})

	got, err := Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 101, 102, 97, 96, 105}, got.Data.Values())
	assert.Equal(t, 1.0, got.Gain, "missing GAIN defaults to 1")
	assert.Equal(t, "", got.Filter)
}

func TestFrame_NilData(t *testing.T) {
	f := Frame{Filter: "g"}
	assert.Contains(t, f.String(), "nil")

	var buf bytes.Buffer
	assert.ErrorIs(t, f.Write(&buf), ErrNotImage)
}

func TestRead_Garbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("this is not a FITS file")))
	assert.Error(t, err)

	_, err = ReadFile(fsutil.NewMemoryFileSystem(), "/nope.fits")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestTimestamp(t *testing.T) {
	ts, err := testFrame(t).Timestamp()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 7, 0, time.UTC), ts)

	_, err = Frame{UT: "yesterday"}.Timestamp()
	assert.Error(t, err)
}
