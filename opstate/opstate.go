// Package opstate models machine activity as a single authoritative finite state machine. It
// reconciles noisy, asynchronous status reports with user intent events, so that status text is
// never the displayed source of truth on its own.
package opstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fornellas/slogxt/log"

	brokerMod "github.com/fornellas/ngs/broker"
	grblMod "github.com/fornellas/ngs/grbl"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdle
	StateRunning
	StateAlarm
)

var stateNames = map[State]string{
	StateDisconnected: "Disconnected",
	StateConnecting:   "Connecting",
	StateIdle:         "Idle",
	StateRunning:      "Running",
	StateAlarm:        "Alarm",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	panic(fmt.Sprintf("unexpected State: %d", int(s)))
}

type EventKind int

const (
	EventConnectRequested EventKind = iota
	EventConnectionSucceeded
	EventConnectionFailed
	EventDisconnectRequested
	// Motion operations: homing, jogging or a move to a preset position. Only one motion
	// operation is permitted at a time.
	EventHomeRequested
	EventJogRequested
	EventMoveRequested
	// Sending a command to the transport failed: no motion was actually initiated.
	EventCommandFailed
	EventStatusReport
)

var eventKindNames = map[EventKind]string{
	EventConnectRequested:    "connect requested",
	EventConnectionSucceeded: "connection succeeded",
	EventConnectionFailed:    "connection failed",
	EventDisconnectRequested: "disconnect requested",
	EventHomeRequested:       "home requested",
	EventJogRequested:        "jog requested",
	EventMoveRequested:       "move requested",
	EventCommandFailed:       "command failed",
	EventStatusReport:        "status report",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	panic(fmt.Sprintf("unexpected EventKind: %d", int(k)))
}

type Event struct {
	Kind EventKind
	// Firmware reported state, for EventStatusReport.
	Status grblMod.State
	// Human readable detail: alarm description for alarm reports, send error for
	// EventCommandFailed.
	Err error
}

func (e Event) String() string {
	if e.Kind == EventStatusReport {
		return fmt.Sprintf("%s (%s)", e.Kind, e.Status)
	}
	return e.Kind.String()
}

// Transition is published to subscribers on every state change, synchronously with the event
// that caused it.
type Transition struct {
	From  State
	To    State
	Event Event
}

var ErrMotionInProgress = errors.New("another motion operation is in progress")
var ErrNotIdle = errors.New("machine is not idle")

func (k EventKind) motionRequest() bool {
	switch k {
	case EventHomeRequested, EventJogRequested, EventMoveRequested:
		return true
	}
	return false
}

type Options struct {
	// Minimum time Running must be held before an Idle status report is trusted to signal
	// completion. Right after a motion command is issued the firmware may still report the
	// previous Idle status before motion actually starts; trusting it would signal a spurious
	// completion.
	Dwell time.Duration
	// Clock, for tests.
	Now func() time.Time
}

const DefaultDwell = 500 * time.Millisecond

// Machine is the operation state machine. The current state changes only through Handle();
// every change is published as a Transition via the embedded broker.
type Machine struct {
	*brokerMod.Broker[Transition]

	mu           sync.Mutex
	state        State
	runningSince time.Time
	lastErr      error
	dwell        time.Duration
	now          func() time.Time
}

func NewMachine(options *Options) *Machine {
	if options == nil {
		options = &Options{}
	}
	dwell := options.Dwell
	if dwell == 0 {
		dwell = DefaultDwell
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		Broker: brokerMod.NewBroker[Transition](),
		state:  StateDisconnected,
		dwell:  dwell,
		now:    now,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error carried by the last event that caused a transition into the current
// state (eg: the alarm description), or nil.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

//gocyclo:ignore
func (m *Machine) nextState(event Event) (State, error) {
	// Disconnect is accepted from every state.
	if event.Kind == EventDisconnectRequested {
		return StateDisconnected, nil
	}

	if event.Kind.motionRequest() {
		switch m.state {
		case StateIdle:
			return StateRunning, nil
		case StateRunning:
			return m.state, ErrMotionInProgress
		case StateDisconnected:
			return m.state, errors.New("not connected")
		default:
			return m.state, ErrNotIdle
		}
	}

	switch m.state {
	case StateDisconnected:
		switch event.Kind {
		case EventConnectRequested:
			return StateConnecting, nil
		}
	case StateConnecting:
		switch event.Kind {
		case EventConnectionSucceeded:
			return StateIdle, nil
		case EventConnectionFailed:
			return StateDisconnected, nil
		case EventStatusReport:
			// A report may arrive before the connection handshake settles (eg: silent
			// auto-reconnect): an alarm there must not be masked.
			if event.Status == grblMod.StateAlarm {
				return StateAlarm, nil
			}
		}
	case StateIdle:
		switch event.Kind {
		case EventStatusReport:
			if event.Status == grblMod.StateAlarm {
				return StateAlarm, nil
			}
			// The firmware started moving without a local command (eg: externally injected
			// G-code): trust the report.
			if event.Status.Motion() {
				return StateRunning, nil
			}
		}
	case StateRunning:
		switch event.Kind {
		case EventCommandFailed:
			// No motion was initiated: no point waiting for a status report.
			return StateIdle, nil
		case EventStatusReport:
			if event.Status == grblMod.StateAlarm {
				return StateAlarm, nil
			}
			if event.Status == grblMod.StateIdle {
				// An Idle report arriving too soon is the stale pre-motion status, not a
				// completion: ignore it until the dwell time elapses.
				if m.now().Sub(m.runningSince) < m.dwell {
					return m.state, nil
				}
				return StateIdle, nil
			}
		}
	case StateAlarm:
		switch event.Kind {
		case EventStatusReport:
			// Clearing an alarm requires firmware confirmation, not just a local command
			// acknowledgement.
			if event.Status == grblMod.StateIdle {
				return StateIdle, nil
			}
		}
	}

	return m.state, nil
}

// Handle applies an event to the state machine and returns the resulting state. Rejected
// requests (eg: motion while Running) return an error and leave the state unchanged. State
// changes are published to subscribers before Handle returns.
func (m *Machine) Handle(ctx context.Context, event Event) (State, error) {
	logger := log.MustLogger(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	newState, err := m.nextState(event)
	if err != nil {
		return m.state, err
	}

	if newState == m.state {
		return m.state, nil
	}

	oldState := m.state
	m.state = newState
	m.lastErr = event.Err
	if newState == StateRunning {
		m.runningSince = m.now()
	} else {
		m.runningSince = time.Time{}
	}

	logger.Info("State changed", "from", oldState, "to", newState, "event", event)
	m.Broker.Publish(Transition{
		From:  oldState,
		To:    newState,
		Event: event,
	})

	return m.state, nil
}
