package main

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
)

var ZeroCmd = &cobra.Command{
	Use:   "zero [axes]",
	Short: "Zero the current work coordinate system on the given axes (default XYZ).",
	Args:  cobra.MaximumNArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		axes := "XYZ"
		if len(args) == 1 {
			axes = strings.ToUpper(args[0])
		}

		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			ctx, logger := log.MustWithAttrs(ctx, "axes", axes)

			if _, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second); err != nil {
				return err
			}

			logger.Info("Zeroing work coordinates")
			return session.SetWorkZero(ctx, axes)
		})
	}),
}

func init() {
	AddPortFlags(ZeroCmd)
	AddMachineFlags(ZeroCmd)
	AddSessionFlags(ZeroCmd)
	RootCmd.AddCommand(ZeroCmd)
}
