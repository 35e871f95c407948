// Package frame reads and writes single-image FITS frames, the unit of
// data everything else in opticam works on.
package frame

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/fsutil"
)

var ErrNotImage = errors.New("primary HDU is not a 2D image")

// UTLayout is how the UT header value is formatted.
const UTLayout = "2006-01-02 15:04:05"

type Frame struct {
	Data    *emath.FloatGrid
	Filter  string
	Binning string // e.g. "8x8"
	Gain    float64
	UT      string
}

func (f Frame) String() string {
	if f.Data == nil {
		return fmt.Sprintf("Frame[nil, filter=%q, binning=%q, gain=%g, ut=%q]", f.Filter, f.Binning, f.Gain, f.UT)
	}
	return fmt.Sprintf("Frame[%dx%d, filter=%q, binning=%q, gain=%g, ut=%q]",
		f.Data.Dx(), f.Data.Dy(), f.Filter, f.Binning, f.Gain, f.UT)
}

// Timestamp parses the UT header.
func (f Frame) Timestamp() (time.Time, error) {
	t, err := time.Parse(UTLayout, f.UT)
	if err != nil {
		return time.Time{}, fmt.Errorf("frame UT '%s': %w", f.UT, err)
	}
	return t, nil
}

func (f Frame) cards() []fitsio.Card {
	cards := []fitsio.Card{}
	if f.Filter != "" {
		cards = append(cards, fitsio.Card{Name: "FILTER", Value: f.Filter, Comment: "filter band"})
	}
	if f.Binning != "" {
		cards = append(cards, fitsio.Card{Name: "BINNING", Value: f.Binning, Comment: "pixel binning"})
	}
	cards = append(cards, fitsio.Card{Name: "GAIN", Value: f.Gain, Comment: "e-/ADU"})
	if f.UT != "" {
		cards = append(cards, fitsio.Card{Name: "UT", Value: f.UT, Comment: "observation time"})
	}
	return cards
}

// Write writes the frame as a FITS file with a single float64 image.
func (f Frame) Write(w io.Writer) error {
	if f.Data == nil || f.Data.Empty() {
		return fmt.Errorf("frame write: %w", ErrNotImage)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("fits create: %w", err)
	}
	defer fits.Close()

	img := fitsio.NewImage(-64, []int{f.Data.Dx(), f.Data.Dy()})
	defer img.Close()

	if err := img.Header().Append(f.cards()...); err != nil {
		return fmt.Errorf("fits header: %w", err)
	}
	if err := img.Write(f.Data.Values()); err != nil {
		return fmt.Errorf("fits image: %w", err)
	}
	if err := fits.Write(img); err != nil {
		return fmt.Errorf("fits write: %w", err)
	}
	return nil
}

// WriteFile writes the frame to path, gzipped if path ends in ".gz".
// With overwrite false, an existing file is left alone and the error
// wraps fs.ErrExist.
func (f Frame) WriteFile(fsys fsutil.FileSystem, path string, overwrite bool) error {
	var out io.WriteCloser
	var err error
	if overwrite {
		out, err = fsys.Create(path)
	} else {
		out, err = fsys.CreateNew(path)
	}
	if err != nil {
		return fmt.Errorf("frame create '%s': %w", path, err)
	}

	err = f.writeTo(out, strings.HasSuffix(path, ".gz"))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fsys.Remove(path)
		return fmt.Errorf("frame write '%s': %w", path, err)
	}
	return nil
}

func (f Frame) writeTo(w io.Writer, compress bool) error {
	if !compress {
		return f.Write(w)
	}
	gz := gzip.NewWriter(w)
	if err := f.Write(gz); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

// Read parses a FITS stream, gzipped or not, and returns its primary
// image as a Frame.
func Read(r io.Reader) (Frame, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return Frame{}, fmt.Errorf("gunzip: %w", err)
		}
		defer gz.Close()
		return readFITS(gz)
	}
	return readFITS(br)
}

func ReadFile(fsys fsutil.FileSystem, path string) (Frame, error) {
	in, err := fsys.Open(path)
	if err != nil {
		return Frame{}, fmt.Errorf("frame open '%s': %w", path, err)
	}
	defer in.Close()

	f, err := Read(in)
	if err != nil {
		return Frame{}, fmt.Errorf("frame read '%s': %w", path, err)
	}
	return f, nil
}

func readFITS(r io.Reader) (Frame, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return Frame{}, fmt.Errorf("fits open: %w", err)
	}
	defer fits.Close()

	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return Frame{}, ErrNotImage
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 || axes[0] <= 0 || axes[1] <= 0 {
		return Frame{}, fmt.Errorf("axes %v: %w", axes, ErrNotImage)
	}

	vals, err := readPixels(img, hdr.Bitpix(), axes[0]*axes[1])
	if err != nil {
		return Frame{}, err
	}
	bzero, bscale := cardFloat(hdr, "BZERO", 0), cardFloat(hdr, "BSCALE", 1)
	if bzero != 0 || bscale != 1 {
		for i, v := range vals {
			vals[i] = bzero + bscale*v
		}
	}

	data, err := emath.NewFloatGridFromValues(axes[0], axes[1], vals)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Data:    data,
		Filter:  cardString(hdr, "FILTER"),
		Binning: cardString(hdr, "BINNING"),
		Gain:    cardFloat(hdr, "GAIN", 1),
		UT:      cardString(hdr, "UT"),
	}, nil
}

// readPixels reads the image in its stored type, and converts to
// float64. fitsio fills the slice it is given, so every buffer is
// sized to the image up front.
func readPixels(img fitsio.Image, bitpix int, n int) ([]float64, error) {
	var out []float64
	var err error
	switch bitpix {
	case 8:
		raw := make([]uint8, n)
		err = img.Read(&raw)
		out = convert(raw)
	case 16:
		raw := make([]int16, n)
		err = img.Read(&raw)
		out = convert(raw)
	case 32:
		raw := make([]int32, n)
		err = img.Read(&raw)
		out = convert(raw)
	case 64:
		raw := make([]int64, n)
		err = img.Read(&raw)
		out = convert(raw)
	case -32:
		raw := make([]float32, n)
		err = img.Read(&raw)
		out = convert(raw)
	case -64:
		out = make([]float64, n)
		err = img.Read(&out)
	default:
		return nil, fmt.Errorf("bitpix %d: %w", bitpix, ErrNotImage)
	}
	if err != nil {
		return nil, fmt.Errorf("fits pixels: %w", err)
	}
	return out, nil
}

func convert[T uint8 | int16 | int32 | int64 | float32](raw []T) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out
}

func cardString(hdr *fitsio.Header, name string) string {
	c := hdr.Get(name)
	if c == nil {
		return ""
	}
	if s, ok := c.Value.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprintf("%v", c.Value)
}

func cardFloat(hdr *fitsio.Header, name string, dflt float64) float64 {
	c := hdr.Get(name)
	if c == nil {
		return dflt
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return dflt
}
