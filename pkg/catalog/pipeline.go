package catalog

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/abworrall/opticam/pkg/background"
	"github.com/abworrall/opticam/pkg/emath"
	"github.com/abworrall/opticam/pkg/frame"
	"github.com/abworrall/opticam/pkg/fsutil"
	"github.com/abworrall/opticam/pkg/logging"
	"github.com/abworrall/opticam/pkg/segment"
)

// Pipeline takes a frame from pixels to a FrameRecord: estimate and
// remove the sky, detect sources, measure them.
type Pipeline struct {
	Detector   segment.Detector
	Background background.Config
	NSigma     float64 // Detection threshold, in sky RMS
	Smooth     bool    // Blur before detecting; measurement always uses unblurred data

	// If set, ProcessFile writes <base>-frame.png (sky subtracted) and
	// <base>-labels.png into this dir for each file.
	PreviewDir string
}

func NewPipeline(dc segment.DetectorConfig) (*Pipeline, error) {
	if !(dc.ThresholdSigma > 0) {
		return nil, fmt.Errorf("threshold_sigma %g, must be > 0: %w", dc.ThresholdSigma, segment.ErrInvalidConfig)
	}
	det, err := dc.Build()
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Detector:   det,
		Background: background.DefaultConfig(),
		NSigma:     dc.ThresholdSigma,
		Smooth:     dc.Smooth,
	}, nil
}

// Process detects and measures the sources in one frame. The record's
// Threshold is in the frame's own units, i.e. including the sky.
func (p *Pipeline) Process(fr frame.Frame) (FrameRecord, *segment.LabelMap, error) {
	rec, lm, _, err := p.process(fr)
	return rec, lm, err
}

func (p *Pipeline) process(fr frame.Frame) (FrameRecord, *segment.LabelMap, *emath.FloatGrid, error) {
	bg, err := background.Estimate(fr.Data, p.Background)
	if err != nil {
		return FrameRecord{}, nil, nil, err
	}
	sub, err := bg.Subtract(fr.Data)
	if err != nil {
		return FrameRecord{}, nil, nil, err
	}
	logging.Debugf("catalog: sky subtracted %s\n", sub.Stats())

	detectOn := sub
	if p.Smooth {
		detectOn = sub.GaussianBlur()
	}
	threshold := bg.Threshold(p.NSigma)
	lm, err := p.Detector.Detect(detectOn, threshold-bg.GlobalMedian())
	if err != nil {
		return FrameRecord{}, nil, nil, err
	}

	sources, err := Measure(sub, lm)
	if err != nil {
		return FrameRecord{}, nil, nil, err
	}

	logging.Logf("catalog: %s %s: %d sources above %.2f [%s]\n", fr.Filter, fr.UT, len(sources), threshold, Summary(fr.Data))
	return FrameRecord{
		Filter:     fr.Filter,
		UT:         fr.UT,
		Background: bg.GlobalMedian(),
		Threshold:  threshold,
		NSources:   len(sources),
		Sources:    sources,
	}, lm, sub, nil
}

func (p *Pipeline) ProcessFile(fsys fsutil.FileSystem, path string) (FrameRecord, *segment.LabelMap, error) {
	fr, err := frame.ReadFile(fsys, path)
	if err != nil {
		return FrameRecord{}, nil, err
	}
	rec, lm, sub, err := p.process(fr)
	if err != nil {
		return FrameRecord{}, nil, fmt.Errorf("process '%s': %w", path, err)
	}
	rec.Path = path

	if p.PreviewDir != "" {
		if err := writePreviews(p.PreviewDir, PreviewBase(path), sub, lm); err != nil {
			return FrameRecord{}, nil, err
		}
	}
	return rec, lm, nil
}

// PreviewBase is the file's name without its directory or its
// .fits/.fits.gz extension.
func PreviewBase(path string) string {
	return strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".gz"), ".fits")
}

func writePreviews(dir, base string, sub *emath.FloatGrid, lm *segment.LabelMap) error {
	if err := sub.ToImg(base, filepath.Join(dir, base+"-frame.png")); err != nil {
		return fmt.Errorf("preview '%s': %w", base, err)
	}
	if err := lm.Preview(base, filepath.Join(dir, base+"-labels.png")); err != nil {
		return fmt.Errorf("preview '%s': %w", base, err)
	}
	return nil
}
