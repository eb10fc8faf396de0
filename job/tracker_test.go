package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gcodeMod "github.com/fornellas/ngs/gcode"
)

// A serpentine path whose rows pass close to each other, the worst case for position matching.
var serpentineText = `G1 X20 F600
G1 Y5
G1 X0
G1 Y10
G1 X20`

func newTestTracker(t *testing.T) (*Tracker, *gcodeMod.Program, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker(&Options{Now: func() time.Time { return now }})
	program := gcodeMod.Estimate(serpentineText, nil)
	require.Len(t, program.Moves, 5)
	return tracker, program, &now
}

func TestTrackerNoSession(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	require.Nil(t, tracker.Progress())
	require.False(t, tracker.Active())
	tracker.UpdatePosition(gcodeMod.Point{X: 1})
	require.Nil(t, tracker.Progress())
}

func TestTrackerTimeBasedProgress(t *testing.T) {
	tracker, program, now := newTestTracker(t)
	tracker.Start(program)

	snapshot := tracker.Progress()
	require.NotNil(t, snapshot)
	require.Equal(t, 0, snapshot.Index)
	require.Equal(t, 0.0, snapshot.Percent)
	require.False(t, snapshot.Done)

	// 20mm at F600 is 2s: the first move's window. Then 3s lands inside the third move.
	*now = now.Add(3 * time.Second)
	snapshot = tracker.Progress()
	require.Equal(t, 2, snapshot.Index)
	require.Equal(t, 3, snapshot.Line)
	require.Greater(t, snapshot.Percent, 0.0)
	require.Less(t, snapshot.Percent, 100.0)
	require.Equal(t, 3*time.Second, snapshot.Elapsed)
	require.False(t, snapshot.Done)
}

func TestTrackerTimeBasedCompletion(t *testing.T) {
	tracker, program, now := newTestTracker(t)
	tracker.Start(program)

	*now = now.Add(time.Hour)
	snapshot := tracker.Progress()
	require.Equal(t, len(program.Moves)-1, snapshot.Index)
	require.Equal(t, 100.0, snapshot.Percent)
	require.Equal(t, time.Duration(0), snapshot.Remaining)
	require.True(t, snapshot.Done)
}

func TestTrackerPositionMatching(t *testing.T) {
	tracker, program, _ := newTestTracker(t)
	tracker.Start(program)

	tracker.UpdatePosition(gcodeMod.Point{X: 10, Y: 0})
	require.Equal(t, 0, tracker.Progress().Index)

	tracker.UpdatePosition(gcodeMod.Point{X: 20, Y: 2})
	require.Equal(t, 1, tracker.Progress().Index)

	tracker.UpdatePosition(gcodeMod.Point{X: 10, Y: 5})
	require.Equal(t, 2, tracker.Progress().Index)

	tracker.UpdatePosition(gcodeMod.Point{X: 0, Y: 7})
	require.Equal(t, 3, tracker.Progress().Index)
}

func TestTrackerPositionNeverRegresses(t *testing.T) {
	tracker, program, _ := newTestTracker(t)
	tracker.Start(program)

	tracker.UpdatePosition(gcodeMod.Point{X: 0, Y: 7})
	require.Equal(t, 3, tracker.Progress().Index)

	// (10,5) lies exactly on the already-completed third row. Matching must not walk progress
	// backwards to it.
	tracker.UpdatePosition(gcodeMod.Point{X: 10, Y: 5})
	require.Equal(t, 3, tracker.Progress().Index)
}

func TestTrackerPositionFallbackToNearestEndpoint(t *testing.T) {
	tracker, program, _ := newTestTracker(t)
	tracker.Start(program)

	// Not within closeness of any segment: the move with the nearest endpoint wins.
	tracker.UpdatePosition(gcodeMod.Point{X: 25, Y: 11})
	require.Equal(t, len(program.Moves)-1, tracker.Progress().Index)
}

func TestTrackerCloseness(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewTracker(&Options{Closeness: 2.0, Now: func() time.Time { return now }})
	program := gcodeMod.Estimate(serpentineText, nil)
	tracker.Start(program)

	// 1.5mm off the second move's segment: outside the default closeness, inside the
	// configured one.
	tracker.UpdatePosition(gcodeMod.Point{X: 21.5, Y: 2})
	require.Equal(t, 1, tracker.Progress().Index)
}

func TestTrackerPauseFreezesProgress(t *testing.T) {
	tracker, program, now := newTestTracker(t)
	tracker.Start(program)

	*now = now.Add(time.Second)
	tracker.Pause()

	*now = now.Add(time.Minute)
	snapshot := tracker.Progress()
	require.Equal(t, time.Second, snapshot.Elapsed)

	// Updates while paused are dropped.
	tracker.UpdatePosition(gcodeMod.Point{X: 0, Y: 7})
	require.Equal(t, snapshot.Index, tracker.Progress().Index)

	tracker.Resume()
	snapshot = tracker.Progress()
	require.Equal(t, time.Second+time.Minute, snapshot.Elapsed)
}

func TestTrackerStop(t *testing.T) {
	tracker, program, _ := newTestTracker(t)
	tracker.Start(program)
	require.True(t, tracker.Active())

	tracker.Stop()
	require.False(t, tracker.Active())
	require.Nil(t, tracker.Progress())
}

func TestTrackerRestartResetsConfirmedIndex(t *testing.T) {
	tracker, program, _ := newTestTracker(t)
	tracker.Start(program)

	tracker.UpdatePosition(gcodeMod.Point{X: 0, Y: 7})
	require.Equal(t, 3, tracker.Progress().Index)

	tracker.Start(program)
	require.Equal(t, 0, tracker.Progress().Index)
}

func TestTrackerEmptyProgram(t *testing.T) {
	tracker, _, _ := newTestTracker(t)
	tracker.Start(gcodeMod.Estimate("", nil))

	snapshot := tracker.Progress()
	require.NotNil(t, snapshot)
	require.Equal(t, 100.0, snapshot.Percent)
	require.True(t, snapshot.Done)
}
