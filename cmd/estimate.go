package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	gcodeMod "github.com/fornellas/ngs/gcode"
)

var estimateShowLines bool
var defaultEstimateShowLines = false

var EstimateCmd = &cobra.Command{
	Use:   "estimate path",
	Short: "Read g-code from given path and estimate its execution time.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) (err error) {
		path := args[0]

		ctx, logger := log.MustWithAttrs(
			cmd.Context(),
			"path", path,
			"output", outputValue,
		)
		cmd.SetContext(ctx)
		logger.Info("Running")

		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		w, err := outputValue.WriterCloser()
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, w.Close()) }()

		program := gcodeMod.Estimate(string(text), GetEstimateConfig())

		if estimateShowLines {
			for _, move := range program.Moves {
				if _, err := fmt.Fprintf(w, "%6d %8s  %s\n",
					move.Line,
					time.Duration(move.Seconds*float64(time.Second)).Round(time.Millisecond),
					move.Description(),
				); err != nil {
					return err
				}
			}
		}

		totals := program.Totals
		_, err = fmt.Fprintf(w,
			"total %s (rapid %s, cutting %s), %.1fmm, done by %s\n",
			time.Duration(totals.Seconds*float64(time.Second)).Round(time.Second),
			time.Duration(totals.RapidSeconds*float64(time.Second)).Round(time.Second),
			time.Duration(totals.CuttingSeconds*float64(time.Second)).Round(time.Second),
			totals.Distance,
			totals.Completion.Format(time.Kitchen),
		)
		return err
	}),
}

func init() {
	AddOutputFlags(EstimateCmd)
	AddMachineFlags(EstimateCmd)

	EstimateCmd.Flags().BoolVar(
		&estimateShowLines,
		"show-lines",
		defaultEstimateShowLines,
		"Display the per-line duration breakdown in addition to the totals",
	)

	RootCmd.AddCommand(EstimateCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		estimateShowLines = defaultEstimateShowLines
	})
}
