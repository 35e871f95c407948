package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/abworrall/opticam/pkg/catalog"
	"github.com/abworrall/opticam/pkg/fsutil"
	"github.com/abworrall/opticam/pkg/logging"
	"github.com/abworrall/opticam/pkg/segment"
)

func NewDetectCmd() *cobra.Command {
	var (
		configFile     string
		dbPath         string
		kind           string
		thresholdSigma float64
		borderWidth    int
		previewDir     string
	)

	cmd := &cobra.Command{
		Use:   "detect [flags] file-or-dir...",
		Short: "Detect and measure sources, and record them in the catalog",
		Long: `Detect finds the sources in each FITS frame, measures them, and
records them in a sqlite catalog. Directories are expanded to the
*.fits and *.fits.gz files inside them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dc := segment.NewDetectorConfig()
			if configFile != "" {
				var err error
				if dc, err = segment.LoadDetectorConfig(configFile); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("kind") {
				dc.Kind = kind
			}
			if cmd.Flags().Changed("threshold-sigma") {
				dc.ThresholdSigma = thresholdSigma
			}
			if cmd.Flags().Changed("border") {
				dc.BorderWidth = borderWidth
			}
			logging.Debugf("detector config:-\n\n%s\n", dc.AsYaml())

			p, err := catalog.NewPipeline(dc)
			if err != nil {
				return err
			}

			fsys := fsutil.OSFileSystem{}
			files, err := expandFrames(fsys, args)
			if err != nil {
				return err
			}

			if err := fsys.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
				return err
			}
			store, err := catalog.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			if previewDir != "" {
				if err := fsys.MkdirAll(previewDir, 0755); err != nil {
					return err
				}
				p.PreviewDir = previewDir
			}

			for _, fn := range files {
				rec, _, err := p.ProcessFile(fsys, fn)
				if err != nil {
					return err
				}
				if _, err := store.RecordFrame(rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%d sources\n", fn, rec.Filter, rec.UT, rec.NSources)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "detector config yaml file")
	cmd.Flags().StringVar(&dbPath, "db", dataDir("catalog.db"), "sqlite catalog to record into")
	cmd.Flags().StringVar(&kind, "kind", "finder", "detector: finder or crowded")
	cmd.Flags().Float64Var(&thresholdSigma, "threshold-sigma", 5, "detection threshold, in sky RMS above the sky")
	cmd.Flags().IntVar(&borderWidth, "border", 0, "drop sources within this many pixels of the edge")
	cmd.Flags().StringVar(&previewDir, "preview", "", "write frame and label map PNGs per frame into this dir")
	return cmd
}

func expandFrames(fsys fsutil.FileSystem, args []string) ([]string, error) {
	files := []string{}
	for _, arg := range args {
		fi, err := fsys.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		for _, pattern := range []string{"*.fits", "*.fits.gz"} {
			matches, err := fsys.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	return files, nil
}
