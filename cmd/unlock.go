package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
)

var UnlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Clear an alarm lock ($X). The machine may have lost position: home before cutting.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			logger := log.MustLogger(ctx)

			logger.Info("Unlocking")
			if err := session.Unlock(ctx); err != nil {
				return err
			}

			statusReport, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second)
			if err != nil {
				return err
			}
			logger.Info("Unlocked", "state", statusReport.MachineState.State)
			return nil
		})
	}),
}

func init() {
	AddPortFlags(UnlockCmd)
	AddMachineFlags(UnlockCmd)
	AddSessionFlags(UnlockCmd)
	RootCmd.AddCommand(UnlockCmd)
}
