package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/abworrall/opticam/pkg/logging"
)

func NewRootCmd() *cobra.Command {
	var verbosity int
	var quiet bool

	cmd := &cobra.Command{
		Use:   "opticam",
		Short: "Synthetic frames, source detection and light curves",
		Long: `opticam works on sequences of telescope frames stored as FITS files.

It can generate synthetic flats and observations, detect and measure the
sources in each frame into a sqlite catalog, and pull light curves back
out of the catalog.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log.SetFlags(log.Ldate | log.Ltime)
			log.SetOutput(cmd.ErrOrStderr())
			logging.SetLogger(log.Printf)
			if quiet {
				logging.SetLogger(nil)
			}
			logging.Verbosity = verbosity
		},
	}

	cmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "how verbose to get")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "no log output")

	cmd.AddCommand(NewSynthCmd())
	cmd.AddCommand(NewDetectCmd())
	cmd.AddCommand(NewLightCurveCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// dataDir is where output goes when no path is given.
func dataDir(elem ...string) string {
	return filepath.Join(append([]string{xdg.DataHome, "opticam"}, elem...)...)
}
