// Package control composes the Grbl client, the operation state machine and the job tracker
// into a single session: it consumes push messages, keeps the state machine fed, gates motion
// commands and exposes job progress.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fornellas/slogxt/log"

	gcodeMod "github.com/fornellas/ngs/gcode"
	grblMod "github.com/fornellas/ngs/grbl"
	jobMod "github.com/fornellas/ngs/job"
	opstateMod "github.com/fornellas/ngs/opstate"
)

// Transport is the subset of the Grbl client the session sends through.
type Transport interface {
	SendCommand(ctx context.Context, command string) (*grblMod.Response, error)
	SendRealTimeCommand(cmd grblMod.RealTimeCommand) error
}

type SessionOptions struct {
	Estimate *gcodeMod.EstimateConfig
	Tracker  *jobMod.Options
	Machine  *opstateMod.Options
}

// Session is the controller facade commands talk to. All message handling and command gating
// goes through it, so the state machine always observes events in the order they happened.
type Session struct {
	transport   Transport
	machine     *opstateMod.Machine
	tracker     *jobMod.Tracker
	estimateCfg *gcodeMod.EstimateConfig
	lastWCO     *grblMod.Position
}

func NewSession(transport Transport, options *SessionOptions) *Session {
	if options == nil {
		options = &SessionOptions{}
	}
	estimateCfg := options.Estimate
	if estimateCfg == nil {
		estimateCfg = gcodeMod.DefaultEstimateConfig()
	}
	return &Session{
		transport:   transport,
		machine:     opstateMod.NewMachine(options.Machine),
		tracker:     jobMod.NewTracker(options.Tracker),
		estimateCfg: estimateCfg,
	}
}

func (s *Session) Machine() *opstateMod.Machine {
	return s.machine
}

func (s *Session) State() opstateMod.State {
	return s.machine.State()
}

// Estimate parses and times a program with the session's kinematic configuration.
func (s *Session) Estimate(text string) *gcodeMod.Program {
	return gcodeMod.Estimate(text, s.estimateCfg)
}

func (s *Session) handleStatusReport(
	ctx context.Context, statusReport *grblMod.StatusReportPushMessage,
) error {
	logger := log.MustLogger(ctx)

	// Grbl only includes WCO in status reports periodically, so the last seen offset is cached
	// to derive work positions from reports that carry machine position only.
	if statusReport.WorkCoordinateOffset != nil {
		s.lastWCO = statusReport.WorkCoordinateOffset
	}

	if _, err := s.machine.Handle(ctx, opstateMod.Event{
		Kind:   opstateMod.EventStatusReport,
		Status: statusReport.MachineState.State,
	}); err != nil {
		return err
	}

	switch statusReport.MachineState.State {
	case grblMod.StateHold, grblMod.StateDoor:
		s.tracker.Pause()
	case grblMod.StateRun, grblMod.StateJog:
		s.tracker.Resume()
	}

	workPosition := statusReport.ResolveWorkPosition(s.lastWCO)
	if workPosition == nil {
		logger.Debug("No work position resolvable", "status", statusReport.Message)
		return nil
	}
	s.tracker.UpdatePosition(gcodeMod.Point{
		X: workPosition.X, Y: workPosition.Y, Z: workPosition.Z,
	})
	return nil
}

// HandleMessage feeds one push message from the controller into the session. It must be called
// from a single goroutine, in message arrival order.
func (s *Session) HandleMessage(ctx context.Context, message grblMod.Message) error {
	logger := log.MustLogger(ctx)

	switch typedMessage := message.(type) {
	case *grblMod.StatusReportPushMessage:
		return s.handleStatusReport(ctx, typedMessage)
	case *grblMod.AlarmPushMessage:
		_, err := s.machine.Handle(ctx, opstateMod.Event{
			Kind:   opstateMod.EventStatusReport,
			Status: grblMod.StateAlarm,
			Err:    typedMessage.Err(),
		})
		return err
	case *grblMod.WelcomePushMessage:
		logger.Info("Controller reset", "message", typedMessage.String())
	case *grblMod.FeedbackPushMessage:
		logger.Info("Feedback", "message", typedMessage.String())
	case *grblMod.EmptyPushMessage:
	default:
		logger.Debug("Ignoring push message", "message", message.String())
	}
	return nil
}

// WorkPosition resolves a report's work position using the session's cached offset. Must be
// called from the message handling goroutine.
func (s *Session) WorkPosition(statusReport *grblMod.StatusReportPushMessage) *grblMod.Position {
	return statusReport.ResolveWorkPosition(s.lastWCO)
}

// Connected transitions the machine out of Connecting after a successful connect.
func (s *Session) Connected(ctx context.Context) error {
	_, err := s.machine.Handle(ctx, opstateMod.Event{Kind: opstateMod.EventConnectionSucceeded})
	return err
}

func (s *Session) Connecting(ctx context.Context) error {
	_, err := s.machine.Handle(ctx, opstateMod.Event{Kind: opstateMod.EventConnectRequested})
	return err
}

func (s *Session) ConnectionFailed(ctx context.Context, connectErr error) error {
	_, err := s.machine.Handle(ctx, opstateMod.Event{
		Kind: opstateMod.EventConnectionFailed,
		Err:  connectErr,
	})
	return err
}

func (s *Session) Disconnected(ctx context.Context) error {
	s.tracker.Stop()
	_, err := s.machine.Handle(ctx, opstateMod.Event{Kind: opstateMod.EventDisconnectRequested})
	return err
}

// sendGated is the two step protocol for motion commands: the state machine must accept the
// request before anything is written, and a failed send reverts the machine to Idle so it does
// not wait forever for motion that never started.
func (s *Session) sendGated(ctx context.Context, kind opstateMod.EventKind, command string) error {
	if _, err := s.machine.Handle(ctx, opstateMod.Event{Kind: kind}); err != nil {
		return err
	}

	response, err := s.transport.SendCommand(ctx, command)
	if err == nil {
		err = response.Err()
	}
	if err != nil {
		if _, handleErr := s.machine.Handle(ctx, opstateMod.Event{
			Kind: opstateMod.EventCommandFailed,
			Err:  err,
		}); handleErr != nil {
			return handleErr
		}
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

// Home runs the homing cycle.
func (s *Session) Home(ctx context.Context) error {
	return s.sendGated(ctx, opstateMod.EventHomeRequested, "$H")
}

// Jog moves one axis by a relative distance at the given feed rate.
func (s *Session) Jog(ctx context.Context, axis byte, distance, feed float64) error {
	switch axis {
	case 'X', 'Y', 'Z':
	default:
		return fmt.Errorf("invalid axis: %c", axis)
	}
	command := fmt.Sprintf("$J=G91%c%.3fF%.0f", axis, distance, feed)
	return s.sendGated(ctx, opstateMod.EventJogRequested, command)
}

// Unlock clears an alarm with $X. Allowed in any connected state: that's its whole point.
func (s *Session) Unlock(ctx context.Context) error {
	response, err := s.transport.SendCommand(ctx, "$X")
	if err == nil {
		err = response.Err()
	}
	if err != nil {
		return fmt.Errorf("$X: %w", err)
	}
	return nil
}

// SetWorkZero zeroes the current work coordinate system on the given axes, eg "XY" or "XYZ".
func (s *Session) SetWorkZero(ctx context.Context, axes string) error {
	if s.machine.State() != opstateMod.StateIdle {
		return opstateMod.ErrNotIdle
	}
	command := "G10L20P1"
	for _, axis := range axes {
		switch axis {
		case 'X', 'Y', 'Z':
			command += fmt.Sprintf("%c0", axis)
		default:
			return fmt.Errorf("invalid axis: %c", axis)
		}
	}
	response, err := s.transport.SendCommand(ctx, command)
	if err == nil {
		err = response.Err()
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func (s *Session) RequestStatus() error {
	return s.transport.SendRealTimeCommand(grblMod.RealTimeCommandStatusReportQuery)
}

// CancelJog aborts an in-flight jog without raising an alarm, flushing any queued jog motion.
func (s *Session) CancelJog() error {
	return s.transport.SendRealTimeCommand(grblMod.RealTimeCommandJogCancel)
}

// SoftReset halts the controller immediately and aborts any tracked job.
func (s *Session) SoftReset() error {
	s.tracker.Stop()
	return s.transport.SendRealTimeCommand(grblMod.RealTimeCommandSoftReset)
}

// StartJob gates the start of a streamed program and starts progress tracking for it.
func (s *Session) StartJob(ctx context.Context, program *gcodeMod.Program) error {
	if _, err := s.machine.Handle(ctx, opstateMod.Event{
		Kind: opstateMod.EventMoveRequested,
	}); err != nil {
		return err
	}
	s.tracker.Start(program)
	return nil
}

// FinishJob ends progress tracking. A stream error also reverts the state machine, since the
// motion it announced never fully happened.
func (s *Session) FinishJob(ctx context.Context, streamErr error) error {
	s.tracker.Stop()
	if streamErr != nil {
		if _, err := s.machine.Handle(ctx, opstateMod.Event{
			Kind: opstateMod.EventCommandFailed,
			Err:  streamErr,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PauseJob issues a feed hold. Progress freezes when the Hold status report arrives.
func (s *Session) PauseJob() error {
	return s.transport.SendRealTimeCommand(grblMod.RealTimeCommandFeedHold)
}

// ResumeJob resumes from a feed hold.
func (s *Session) ResumeJob() error {
	return s.transport.SendRealTimeCommand(grblMod.RealTimeCommandCycleStartResume)
}

// StopJob soft resets the controller and drops the tracked job.
func (s *Session) StopJob() error {
	return s.SoftReset()
}

func (s *Session) Progress() *jobMod.Snapshot {
	return s.tracker.Progress()
}

func (s *Session) JobActive() bool {
	return s.tracker.Active()
}

// SyncStatus requests a status report and processes push messages until one arrives, so the
// state machine reflects the controller's actual state (eg a power-on alarm) before anything is
// gated on it.
func (s *Session) SyncStatus(
	ctx context.Context, pushMessageCh chan grblMod.Message, timeout time.Duration,
) (*grblMod.StatusReportPushMessage, error) {
	if err := s.RequestStatus(); err != nil {
		return nil, err
	}

	deadline := time.After(timeout)
	for {
		select {
		case message, ok := <-pushMessageCh:
			if !ok {
				return nil, fmt.Errorf("push message channel closed")
			}
			if err := s.HandleMessage(ctx, message); err != nil {
				return nil, err
			}
			if statusReport, ok := message.(*grblMod.StatusReportPushMessage); ok {
				return statusReport, nil
			}
		case <-deadline:
			return nil, fmt.Errorf("no status report received")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitIdle polls the controller until the state machine settles out of Running. It returns nil
// once Idle, or the alarm error if the machine alarmed out.
func (s *Session) WaitIdle(
	ctx context.Context, pushMessageCh chan grblMod.Message, pollInterval time.Duration,
) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		switch s.machine.State() {
		case opstateMod.StateIdle:
			return nil
		case opstateMod.StateAlarm:
			if err := s.machine.Err(); err != nil {
				return err
			}
			return fmt.Errorf("alarm")
		}

		select {
		case message, ok := <-pushMessageCh:
			if !ok {
				return fmt.Errorf("push message channel closed")
			}
			if err := s.HandleMessage(ctx, message); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.RequestStatus(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AwaitIdle blocks until the state machine settles out of Running, relying on a concurrently
// running StatusPollerWorker to feed status reports. It returns nil once Idle, or the alarm
// error if the machine alarmed out.
func (s *Session) AwaitIdle(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		switch s.machine.State() {
		case opstateMod.StateIdle:
			return nil
		case opstateMod.StateAlarm:
			if err := s.machine.Err(); err != nil {
				return err
			}
			return fmt.Errorf("alarm")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StatusPollerWorker drives the status poll loop: it sends a status report query, feeds push
// messages to the session until the report (or a timeout) arrives, then schedules the next
// poll. There is never more than one outstanding query. It returns when the push message
// channel closes or the context is cancelled.
func (s *Session) StatusPollerWorker(
	ctx context.Context, pushMessageCh chan grblMod.Message, pollInterval time.Duration,
) error {
	ctx, logger := log.MustWithGroup(ctx, "Status Poller")

	for {
		queried := true
		if err := s.RequestStatus(); err != nil {
			// A rejected query is recovered like a failed command: the loop keeps scheduling
			// polls so a recovering connection picks back up.
			logger.Error("Failed to send status query", "err", err)
			if _, handleErr := s.machine.Handle(ctx, opstateMod.Event{
				Kind: opstateMod.EventCommandFailed,
				Err:  err,
			}); handleErr != nil {
				logger.Error("Message handling error", "err", handleErr)
			}
			queried = false
		}

		timeout := time.After(pollInterval * 5)
		awaiting := queried
		for awaiting {
			select {
			case message, ok := <-pushMessageCh:
				if !ok {
					return fmt.Errorf("push message channel closed")
				}
				if err := s.HandleMessage(ctx, message); err != nil {
					logger.Error("Message handling error", "err", err)
				}
				if _, isStatusReport := message.(*grblMod.StatusReportPushMessage); isStatusReport {
					awaiting = false
				}
			case <-timeout:
				// A missed report is not fatal: the bridge may be congested. The next query
				// catches up.
				logger.Warn("No status report received in time")
				awaiting = false
			case <-ctx.Done():
				err := ctx.Err()
				if errors.Is(err, context.Canceled) {
					err = nil
				}
				return err
			}
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			err := ctx.Err()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			return err
		}
	}
}
