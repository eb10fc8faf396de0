package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to Grbl and print a one-shot status report.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			statusReport, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second)
			if err != nil {
				return err
			}

			fmt.Printf("state: %s\n", session.State())
			if statusReport.MachineState.SubState != nil {
				fmt.Printf("sub-state: %s\n", statusReport.MachineState.SubStateString())
			}
			fmt.Printf("machine position: %s\n", statusReport.MachinePosition)
			if workPosition := session.WorkPosition(statusReport); workPosition != nil {
				fmt.Printf("work position: %s\n", workPosition)
			}
			if err := session.Machine().Err(); err != nil {
				fmt.Printf("last error: %s\n", err)
			}
			return nil
		})
	}),
}

func init() {
	AddPortFlags(StatusCmd)
	AddMachineFlags(StatusCmd)
	AddSessionFlags(StatusCmd)
	RootCmd.AddCommand(StatusCmd)
}
