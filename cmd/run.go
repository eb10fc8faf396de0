package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
	workerManagerMod "github.com/fornellas/ngs/worker_manager"
)

var maxSerialRxBufferBytes int

var progressInterval time.Duration
var defaultProgressInterval = time.Second

var RunCmd = &cobra.Command{
	Use:   "run path",
	Short: "Stream a g-code program to Grbl, reporting progress until it completes.",
	Args:  cobra.ExactArgs(1),
	Run: GetRunFn(func(cmd *cobra.Command, args []string) error {
		path := args[0]

		text, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		return runWithSession(cmd, func(
			ctx context.Context,
			session *controlMod.Session,
			client *grblMod.Client,
			pushMessageCh chan grblMod.Message,
		) error {
			ctx, logger := log.MustWithAttrs(ctx, "path", path)

			program := session.Estimate(string(text))
			logger.Info(
				"Program estimated",
				"moves", len(program.Moves),
				"duration", time.Duration(program.Totals.Seconds*float64(time.Second)).Round(time.Second),
			)

			if _, err := session.SyncStatus(ctx, pushMessageCh, 5*time.Second); err != nil {
				return err
			}

			if err := session.StartJob(ctx, program); err != nil {
				return err
			}

			workerManager := workerManagerMod.NewWorkerManager()

			workerManager.AddWorker("Status Poller", func(ctx context.Context) error {
				return session.StatusPollerWorker(ctx, pushMessageCh, pollInterval)
			})

			workerManager.AddWorker("Progress Reporter", func(ctx context.Context) error {
				ticker := time.NewTicker(progressInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
						if snapshot := session.Progress(); snapshot != nil {
							logger.Info("Progress", "progress", snapshot)
						}
					}
				}
			})

			workerManager.AddWorker("Program Streamer", func(ctx context.Context) error {
				streamer := grblMod.NewProgramStreamer(client, maxSerialRxBufferBytes)
				streamErr := streamer.Run(ctx, program, nil)
				if streamErr == nil {
					// All lines acknowledged: motion may still be draining from the planner
					// buffer.
					streamErr = session.AwaitIdle(ctx, pollInterval)
				}
				if err := session.FinishJob(ctx, streamErr); err != nil {
					return errors.Join(streamErr, err)
				}
				return streamErr
			})

			workerManager.Start(ctx)
			errMap := workerManager.Wait(ctx)

			var errs []error
			for name, err := range errMap {
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
				}
			}
			if len(errs) > 0 {
				return errors.Join(errs...)
			}

			logger.Info("Program completed")
			return nil
		})
	}),
}

func init() {
	AddPortFlags(RunCmd)
	AddMachineFlags(RunCmd)
	AddSessionFlags(RunCmd)

	RunCmd.Flags().IntVar(
		&maxSerialRxBufferBytes,
		"max-serial-rx-buffer-bytes",
		grblMod.DefaultMaxSerialRxBufferBytes,
		"Size of the controller's serial RX buffer for character counting",
	)

	RunCmd.Flags().DurationVar(
		&progressInterval,
		"progress-interval",
		defaultProgressInterval,
		"How often to report job progress",
	)

	RootCmd.AddCommand(RunCmd)

	resetFlagsFns = append(resetFlagsFns, func() {
		maxSerialRxBufferBytes = grblMod.DefaultMaxSerialRxBufferBytes
		progressInterval = defaultProgressInterval
	})
}
