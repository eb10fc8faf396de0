package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
)

var jogFeed float64
var defaultJogFeed = 500.0

var JogCmd = &cobra.Command{
	Use:   "jog axis distance",
	Short: "Jog one axis by a relative distance in mm, eg: jog X 10.5",
	Args:  cobra.ExactArgs(2),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		axisStr := strings.ToUpper(args[0])
		if len(axisStr) != 1 {
			return fmt.Errorf("invalid axis: %s", args[0])
		}
		axis := axisStr[0]

		distance, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid distance: %s: %w", args[1], err)
		}

		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			ctx, logger := log.MustWithAttrs(
				ctx,
				"axis", axisStr,
				"distance", distance,
				"feed", jogFeed,
			)

			if _, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second); err != nil {
				return err
			}

			logger.Info("Jogging")
			if err := session.Jog(ctx, axis, distance, jogFeed); err != nil {
				return err
			}

			if err := session.WaitIdle(ctx, pushMessageCh, pollInterval); err != nil {
				return errors.Join(err, session.CancelJog())
			}
			return nil
		})
	}),
}

func init() {
	AddPortFlags(JogCmd)
	AddMachineFlags(JogCmd)
	AddSessionFlags(JogCmd)

	JogCmd.Flags().Float64VarP(
		&jogFeed, "feed", "f", defaultJogFeed,
		"Jog feed rate, mm/min",
	)

	RootCmd.AddCommand(JogCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		jogFeed = defaultJogFeed
	})
}
