package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"

	controlMod "github.com/fornellas/ngs/control"
	grblMod "github.com/fornellas/ngs/grbl"
	jobMod "github.com/fornellas/ngs/job"
	opstateMod "github.com/fornellas/ngs/opstate"
)

// runWithSession connects to the controller, builds a session around the connection and hands
// both to fn, disconnecting on the way out. Every command that talks to Grbl goes through this.
func runWithSession(
	cmd *cobra.Command,
	fn func(
		ctx context.Context,
		session *controlMod.Session,
		client *grblMod.Client,
		pushMessageCh chan grblMod.Message,
	) error,
) (err error) {
	ctx, logger := log.MustWithAttrs(
		cmd.Context(),
		"port-name", portName,
		"address", address,
	)
	cmd.SetContext(ctx)

	openPortFn, err := GetOpenPortFn()
	if err != nil {
		return err
	}

	client := grblMod.NewClient(openPortFn)

	session := controlMod.NewSession(client, &controlMod.SessionOptions{
		Estimate: GetEstimateConfig(),
		Tracker:  &jobMod.Options{Closeness: closeness},
		Machine:  &opstateMod.Options{Dwell: dwell},
	})

	if err := session.Connecting(ctx); err != nil {
		return err
	}

	logger.Info("Connecting")
	pushMessageCh, err := client.Connect(ctx)
	if err != nil {
		return errors.Join(err, session.ConnectionFailed(ctx, err))
	}
	defer func() {
		err = errors.Join(err, client.Disconnect(ctx), session.Disconnected(ctx))
	}()

	if err := session.Connected(ctx); err != nil {
		return err
	}

	return fn(ctx, session, client, pushMessageCh)
}
