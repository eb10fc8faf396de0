package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
	workerManagerMod "github.com/fornellas/ngs/worker_manager"
)

var MonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Connect to Grbl and log every state transition until interrupted.",
	Args:  cobra.NoArgs,
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			logger := log.MustLogger(ctx)

			transitionCh := session.Machine().Subscribe("monitor", 50)
			defer session.Machine().Unsubscribe("monitor")

			workerManager := workerManagerMod.NewWorkerManager()

			workerManager.AddWorker("Status Poller", func(ctx context.Context) error {
				return session.StatusPollerWorker(ctx, pushMessageCh, pollInterval)
			})

			workerManager.AddWorker("Transition Logger", func(ctx context.Context) error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case transition, ok := <-transitionCh:
						if !ok {
							return nil
						}
						logger.Info(
							"State changed",
							"from", transition.From,
							"to", transition.To,
							"event", transition.Event,
						)
					}
				}
			})

			workerManager.Start(ctx)
			errMap := workerManager.Wait(ctx)

			var errs []error
			for name, err := range errMap {
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			return errors.Join(errs...)
		})
	}),
}

func init() {
	AddPortFlags(MonitorCmd)
	AddMachineFlags(MonitorCmd)
	AddSessionFlags(MonitorCmd)
	RootCmd.AddCommand(MonitorCmd)
}
