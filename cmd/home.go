package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
)

var HomeCmd = &cobra.Command{
	Use:   "home",
	Short: "Run the homing cycle ($H).",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			logger := log.MustLogger(ctx)

			if _, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second); err != nil {
				return err
			}

			logger.Info("Homing")
			if err := session.Home(ctx); err != nil {
				return err
			}

			if err := session.WaitIdle(ctx, pushMessageCh, pollInterval); err != nil {
				return err
			}
			logger.Info("Homed")
			return nil
		})
	}),
}

func init() {
	AddPortFlags(HomeCmd)
	AddMachineFlags(HomeCmd)
	AddSessionFlags(HomeCmd)
	RootCmd.AddCommand(HomeCmd)
}
