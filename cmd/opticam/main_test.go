package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abworrall/opticam/pkg/synth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "opticam version "))
	assert.NotEmpty(t, getVersion())
	assert.NotEmpty(t, getCommit())
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := []string{}
	for _, c := range NewRootCmd().Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"synth", "detect", "lightcurve", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestDataDir(t *testing.T) {
	assert.Equal(t, "catalog.db", filepath.Base(dataDir("catalog.db")))
	assert.Equal(t, "opticam", filepath.Base(filepath.Dir(dataDir("catalog.db"))))
}

func TestSynthFlats(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "-q", "synth", "flats", "--out", dir, "--count", "2", "--binning", "32", "--filters", "g,r")
	require.NoError(t, err)
	assert.Contains(t, out, "4 written")
	assert.FileExists(t, filepath.Join(dir, "r-band_flat_1.fits.gz"))

	// A rerun leaves existing files alone, and is not an error
	out, err = run(t, "-q", "synth", "flats", "--out", dir, "--count", "2", "--binning", "32", "--filters", "g,r")
	require.NoError(t, err)
	assert.Contains(t, out, "0 written, 0 skipped, 4 failed")
}

func TestSynthConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "synth.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("filters: [V]\nbinning: 32\n"), 0644))

	_, err := run(t, "-q", "synth", "observations", "-c", cfgFile, "--out", dir, "--count", "1")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "240101V200000000o.fits.gz"))

	_, err = run(t, "-q", "synth", "observations", "-c", filepath.Join(dir, "missing.yaml"), "--out", dir)
	assert.Error(t, err)
	_, err = run(t, "-q", "synth", "observations", "--binning", "0", "--out", dir)
	assert.Error(t, err)
}

func TestDetectAndLightCurve(t *testing.T) {
	dir := t.TempDir()
	obsDir := filepath.Join(dir, "obs")
	db := filepath.Join(dir, "db", "catalog.db")

	_, err := run(t, "-q", "synth", "observations", "--out", obsDir, "--count", "5", "--binning", "16", "--filters", "g", "--no-aperture")
	require.NoError(t, err)

	out, err := run(t, "-q", "detect", "--db", db, "--preview", filepath.Join(dir, "previews"), obsDir)
	require.NoError(t, err)
	assert.Equal(t, 5, strings.Count(out, "\n"), out)
	assert.FileExists(t, filepath.Join(dir, "previews", "240101g200000000o-labels.png"))
	assert.FileExists(t, filepath.Join(dir, "previews", "240101g200000000o-frame.png"))

	// Follow the brightest source
	cfg := synth.NewConfig()
	cfg.Binning = 16
	brightest := synth.Source{}
	for _, s := range cfg.Sources() {
		if s.PeakFlux > brightest.PeakFlux {
			brightest = s
		}
	}

	plot := filepath.Join(dir, "lc.png")
	out, err = run(t, "-q", "lightcurve", "--db", db, "--filter", "g",
		"-x", strconv.FormatFloat(brightest.X, 'f', 2, 64),
		"-y", strconv.FormatFloat(brightest.Y, 'f', 2, 64),
		"--plot", plot)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], synth.ObservationTime(0)))
	assert.FileExists(t, plot)

	_, err = run(t, "-q", "lightcurve", "--db", db, "--filter", "z")
	assert.Error(t, err)
}

func TestDetect_Errors(t *testing.T) {
	_, err := run(t, "-q", "detect")
	assert.Error(t, err)

	_, err = run(t, "-q", "detect", "--db", filepath.Join(t.TempDir(), "c.db"), "/no/such/file.fits")
	assert.Error(t, err)

	_, err = run(t, "-q", "detect", "--kind", "psf", filepath.Join(t.TempDir()))
	assert.Error(t, err)
}
