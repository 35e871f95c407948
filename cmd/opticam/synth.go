package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/abworrall/opticam/pkg/fsutil"
	"github.com/abworrall/opticam/pkg/synth"
)

type synthFlags struct {
	configFile string
	outDir     string
	n          int
	overwrite  bool
	filters    string
	binning    int
	workers    int
}

func (f *synthFlags) register(cmd *cobra.Command, defaultN int) {
	cmd.Flags().StringVarP(&f.configFile, "config", "c", "", "synth config yaml file")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", dataDir("synthetic"), "output directory")
	cmd.Flags().IntVarP(&f.n, "count", "n", defaultN, "frames per filter")
	cmd.Flags().BoolVar(&f.overwrite, "overwrite", false, "replace existing files")
	cmd.Flags().StringVar(&f.filters, "filters", "", "comma separated filters, e.g. g,r,i")
	cmd.Flags().IntVar(&f.binning, "binning", 0, "pixel binning; frames are 2048/binning square")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", 0, "frames to generate at once")
}

// generator loads the config file if given, then lets flags override it.
func (f *synthFlags) generator(cmd *cobra.Command) (*synth.Generator, error) {
	cfg := synth.NewConfig()
	if f.configFile != "" {
		var err error
		if cfg, err = synth.LoadConfig(f.configFile); err != nil {
			return nil, err
		}
	}
	if cmd.Flags().Changed("filters") {
		cfg.Filters = synth.ParseFilters(f.filters)
	}
	if cmd.Flags().Changed("binning") {
		cfg.Binning = f.binning
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = f.workers
	}
	return synth.NewGenerator(fsutil.OSFileSystem{}, cfg)
}

func NewSynthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate synthetic frames",
	}
	cmd.AddCommand(newSynthFlatsCmd())
	cmd.AddCommand(newSynthObservationsCmd())
	return cmd
}

func newSynthFlatsCmd() *cobra.Command {
	f := &synthFlags{}
	cmd := &cobra.Command{
		Use:   "flats",
		Short: "Generate flat-field frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := f.generator(cmd)
			if err != nil {
				return err
			}
			rs, err := g.CreateSyntheticFlats(cmd.Context(), f.outDir, f.n, f.overwrite)
			if err != nil {
				return err
			}
			return report(cmd, rs)
		},
	}
	f.register(cmd, 5)
	return cmd
}

func newSynthObservationsCmd() *cobra.Command {
	f := &synthFlags{}
	var noAperture bool
	cmd := &cobra.Command{
		Use:   "observations",
		Short: "Generate observation frames with a variable source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := f.generator(cmd)
			if err != nil {
				return err
			}
			rs, err := g.CreateSyntheticObservations(cmd.Context(), f.outDir, f.n, !noAperture, f.overwrite)
			if err != nil {
				return err
			}
			return report(cmd, rs)
		},
	}
	f.register(cmd, 100)
	cmd.Flags().BoolVar(&noAperture, "no-aperture", false, "skip the circular aperture vignetting")
	return cmd
}

// report prints a summary. Files refused because they already exist
// are expected on a rerun; any other failure fails the command.
func report(cmd *cobra.Command, rs synth.Results) error {
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", rs)

	errs := []error{}
	for _, r := range rs {
		if r.Status == synth.Failed && !errors.Is(r.Err, fs.ErrExist) {
			errs = append(errs, r.Err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d frames failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
