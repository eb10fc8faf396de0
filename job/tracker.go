// Package job infers where a running job is in its program. Grbl does not report which G-code
// line it is executing, so the tracker estimates the current move either by replaying the
// program's cumulative durations against the wall clock, or, preferably, by matching live
// coordinates against the programmed path.
package job

import (
	"fmt"
	"sync"
	"time"

	gcodeMod "github.com/fornellas/ngs/gcode"
)

// Snapshot is the tracker's view of job progress at one instant. Both estimation modes produce
// the same shape.
type Snapshot struct {
	// Index of the current move in the program's move sequence.
	Index int
	// Source line number of the current move.
	Line int
	// Percent complete, 0-100.
	Percent float64
	// Wall clock time since the session started.
	Elapsed time.Duration
	// Estimated time to completion.
	Remaining time.Duration
	// Human readable description of the current activity.
	Description string
	Done        bool
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("line %d, %.1f%%, %s remaining: %s",
		s.Line, s.Percent, s.Remaining.Round(time.Second), s.Description)
}

type Options struct {
	// Maximum point-to-segment distance (mm) for a live position to confirm a move as current.
	Closeness float64
	// Clock, for tests.
	Now func() time.Time
}

const DefaultCloseness = 0.5

// Tracker holds the bookkeeping for one job in progress. A session is created by Start() and
// destroyed by Stop(); the confirmed move index is monotonic within a session and never carries
// over to the next one.
type Tracker struct {
	mu sync.Mutex

	program *gcodeMod.Program
	// Cumulative estimated seconds at the end of each move.
	cumulative []float64

	startTime time.Time
	// Highest move index ever matched. Never decreases within a session: CNC paths frequently
	// revisit the same region from different directions, and matching from the beginning would
	// regress to an earlier pass whose path happens to be geometrically closer.
	lastConfirmed int
	positionSeen  bool
	running       bool
	pausedAt      time.Time

	closeness float64
	now       func() time.Time
}

func NewTracker(options *Options) *Tracker {
	if options == nil {
		options = &Options{}
	}
	closeness := options.Closeness
	if closeness == 0 {
		closeness = DefaultCloseness
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		closeness: closeness,
		now:       now,
	}
}

// Start begins a new session for the given program, resetting the elapsed clock and the
// confirmed move index.
func (t *Tracker) Start(program *gcodeMod.Program) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.program = program
	t.cumulative = make([]float64, len(program.Moves))
	var total float64
	for i, move := range program.Moves {
		total += move.Seconds
		t.cumulative[i] = total
	}

	t.startTime = t.now()
	t.lastConfirmed = 0
	t.positionSeen = false
	t.running = true
	t.pausedAt = time.Time{}
}

// Pause stops accepting updates. Progress reports are frozen at the pause instant.
func (t *Tracker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.pausedAt = t.now()
}

// Resume re-enables updates. Elapsed time is always measured from the original session start,
// so resuming does not produce a discontinuity in the replayed timeline.
func (t *Tracker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.program == nil {
		return
	}
	t.running = true
	t.pausedAt = time.Time{}
}

// Stop ends the session. Progress() returns nil until a new session is started.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.program = nil
	t.cumulative = nil
	t.running = false
}

// Active returns true while a session exists, paused or not.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.program != nil
}

func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// clampIndex keeps an index inside the move sequence: the tracker is advisory, an out of range
// value must degrade, not propagate.
func (t *Tracker) clampIndex(index int) int {
	if index < 0 {
		return 0
	}
	if index >= len(t.program.Moves) {
		return len(t.program.Moves) - 1
	}
	return index
}

// UpdatePosition feeds a live position to the tracker. For each move from the last confirmed
// index forward, the distance from the position to the programmed segment is computed; the
// first move within the closeness threshold becomes current. When no segment matches, the move
// with the nearest endpoint is used. The confirmed index only ever advances. Updates while
// paused or with no session are ignored without error.
func (t *Tracker) UpdatePosition(position gcodeMod.Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.program == nil || !t.running || len(t.program.Moves) == 0 {
		return
	}
	t.positionSeen = true

	candidate := -1
	nearest := -1
	nearestDistance := 0.0

	previous := gcodeMod.Point{}
	if t.lastConfirmed > 0 {
		previous = t.program.Moves[t.lastConfirmed-1].Target
	}
	for i := t.lastConfirmed; i < len(t.program.Moves); i++ {
		move := t.program.Moves[i]
		if move.Distance > 0 {
			if position.DistanceToSegment(previous, move.Target) < t.closeness {
				candidate = i
				break
			}
		}
		if d := position.Distance(move.Target); nearest == -1 || d < nearestDistance {
			nearest = i
			nearestDistance = d
		}
		previous = move.Target
	}
	if candidate == -1 {
		candidate = nearest
	}

	if candidate > t.lastConfirmed {
		t.lastConfirmed = t.clampIndex(candidate)
	}
}

// timeIndex replays the cumulative durations against elapsed time. Zero duration moves have an
// empty window and are skipped over.
func (t *Tracker) timeIndex(elapsedSeconds float64) (int, bool) {
	total := t.cumulative[len(t.cumulative)-1]
	if elapsedSeconds >= total {
		return len(t.cumulative) - 1, true
	}
	for i, end := range t.cumulative {
		if elapsedSeconds < end {
			return i, false
		}
	}
	return len(t.cumulative) - 1, true
}

// Progress reports the current state of the session, or nil when no session exists. The
// position based estimate is used once live positions have been fed; otherwise progress is
// replayed from elapsed time.
func (t *Tracker) Progress() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.program == nil {
		return nil
	}

	now := t.now()
	if !t.running && !t.pausedAt.IsZero() {
		now = t.pausedAt
	}
	elapsed := now.Sub(t.startTime)
	elapsedSeconds := elapsed.Seconds()

	if len(t.program.Moves) == 0 {
		return &Snapshot{
			Percent:     100,
			Elapsed:     elapsed,
			Description: "empty program",
			Done:        true,
		}
	}

	total := t.cumulative[len(t.cumulative)-1]

	var index int
	var done bool
	if t.positionSeen {
		index = t.clampIndex(t.lastConfirmed)
		done = index == len(t.program.Moves)-1 && elapsedSeconds >= total
	} else {
		index, done = t.timeIndex(elapsedSeconds)
		if index < t.lastConfirmed {
			index = t.clampIndex(t.lastConfirmed)
		}
	}

	var completed float64
	if index > 0 {
		completed = t.cumulative[index-1]
	}

	var percent float64
	if done || total == 0 {
		percent = 100
	} else {
		percent = completed / total * 100
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	remaining := total - completed
	// Advisory adaptation to a machine running faster or slower than estimated. Early ratios
	// are wild, so only scale once a tenth of the estimate has elapsed.
	if completed > 0 && elapsedSeconds > total/10 {
		remaining *= elapsedSeconds / completed
	}
	if remaining < 0 || done {
		remaining = 0
	}

	move := &t.program.Moves[index]
	return &Snapshot{
		Index:       index,
		Line:        move.Line,
		Percent:     percent,
		Elapsed:     elapsed,
		Remaining:   time.Duration(remaining * float64(time.Second)),
		Description: move.Description(),
		Done:        done,
	}
}
