package synth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/frame"
	"github.com/abworrall/opticam/pkg/fsutil"
	"github.com/abworrall/opticam/pkg/logging"
)

// ErrGuardHit is the cause attached to frames skipped because their
// guard file exists.
var ErrGuardHit = errors.New("guard file exists")

type Status int

const (
	Pending Status = iota
	Written
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Written:
		return "written"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Result is the outcome for one (index, filter) frame.
type Result struct {
	Index  int
	Filter string
	Path   string
	Status Status
	Err    error // Why it was skipped or failed
}

func (r Result) String() string {
	s := fmt.Sprintf("%s[%d] %s: %s", r.Filter, r.Index, r.Path, r.Status)
	if r.Err != nil {
		s += fmt.Sprintf(" (%v)", r.Err)
	}
	return s
}

type Results []Result

func (rs Results) Count(s Status) int {
	n := 0
	for _, r := range rs {
		if r.Status == s {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed frame; nil if none failed.
func (rs Results) Err() error {
	errs := []error{}
	for _, r := range rs {
		if r.Status == Failed {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", r.Filter, r.Index, r.Err))
		}
	}
	return errors.Join(errs...)
}

func (rs Results) String() string {
	return fmt.Sprintf("%d written, %d skipped, %d failed", rs.Count(Written), rs.Count(Skipped), rs.Count(Failed))
}

// Generator writes synthetic frames into a filesystem.
type Generator struct {
	FS     fsutil.FileSystem
	Config Config
}

func NewGenerator(fsys fsutil.FileSystem, cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{FS: fsys, Config: cfg}, nil
}

// frameFunc builds the image for frame index i. The same image is
// written out for every filter.
type frameFunc func(i int) *emath.FloatGrid

// CreateSyntheticFlats writes nFlats flat-field frames per filter.
func (g *Generator) CreateSyntheticFlats(ctx context.Context, outDir string, nFlats int, overwrite bool) (Results, error) {
	build := func(i int) *emath.FloatGrid {
		img := BaseFrame(i, g.Config.Binning)
		ApplyFlatField(img)
		return img
	}
	return g.run(ctx, outDir, nFlats, overwrite, FlatFilename, build)
}

// CreateSyntheticObservations writes nImages observation frames per
// filter. Each frame has the same sources, at the same positions; one
// of them varies in brightness from frame to frame.
func (g *Generator) CreateSyntheticObservations(ctx context.Context, outDir string, nImages int, circularAperture, overwrite bool) (Results, error) {
	sources := g.Config.Sources()
	for _, s := range sources {
		logging.Debugf("synth: %s\n", s)
	}

	build := func(i int) *emath.FloatGrid {
		img := BaseFrame(i, g.Config.Binning)
		if circularAperture {
			ApplyFlatField(img)
		}
		for _, s := range g.Config.observationSources(sources, i) {
			s.AddTo(img)
		}
		return img
	}
	return g.run(ctx, outDir, nImages, overwrite, ObservationFilename, build)
}

func (g *Generator) run(ctx context.Context, outDir string, n int, overwrite bool, filename func(string, int) string, build frameFunc) (Results, error) {
	if !g.FS.Exists(outDir) {
		if err := g.FS.MkdirAll(outDir, 0755); err != nil {
			return nil, fmt.Errorf("synth mkdir '%s': %w", outDir, err)
		}
	}

	filters := g.Config.Filters
	results := make(Results, n*len(filters))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(g.Config.Workers, 1))

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			var img *emath.FloatGrid
			image := func() *emath.FloatGrid {
				if img == nil {
					img = build(i)
				}
				return img
			}
			// Each goroutine owns its own slots of results
			for fi, f := range filters {
				results[i*len(filters)+fi] = g.writeFrame(outDir, i, f, overwrite, filename, image)
			}
			return nil
		})
	}
	eg.Wait()

	if err := ctx.Err(); err != nil {
		done := Results{}
		for _, r := range results {
			if r.Status != Pending {
				done = append(done, r)
			}
		}
		return done, err
	}

	logging.Logf("synth: %s, to %s\n", results, outDir)
	return results, nil
}

func (g *Generator) writeFrame(outDir string, i int, filter string, overwrite bool, filename func(string, int) string, image func() *emath.FloatGrid) Result {
	r := Result{Index: i, Filter: filter, Path: filepath.Join(outDir, filename(filter, i))}

	guard := filepath.Join(outDir, GuardFilename(filter, i))
	if !overwrite && g.FS.Exists(guard) {
		r.Status, r.Err = Skipped, fmt.Errorf("'%s': %w", guard, ErrGuardHit)
		logging.Debugf("synth: %s\n", r)
		return r
	}

	fr := frame.Frame{
		Data:    image(),
		Filter:  filter,
		Binning: g.Config.binningHeader(),
		Gain:    1.0,
		UT:      ObservationTime(i),
	}
	if err := fr.WriteFile(g.FS, r.Path, overwrite); err != nil {
		r.Status, r.Err = Failed, err
		logging.Logf("synth: %s\n", r)
		return r
	}

	r.Status = Written
	logging.Debugf("synth: %s\n", r)
	return r
}

// ParseFilters splits a comma separated filter list, e.g. "g,r,i".
func ParseFilters(s string) []string {
	out := []string{}
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
