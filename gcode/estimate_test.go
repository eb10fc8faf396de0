package gcode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripComments(t *testing.T) {
	require.Equal(t, "G1 X10", StripComments("G1 X10 ; move right"))
	require.Equal(t, "G1  X10", StripComments("G1 (inline comment) X10"))
	require.Equal(t, "G1", StripComments("G1 (unclosed comment runs to end X10"))
	require.Equal(t, "", StripComments("   ; comment only"))
	require.Equal(t, "", StripComments(""))
}

func TestEstimateEmptyProgram(t *testing.T) {
	program := Estimate("", nil)
	require.Empty(t, program.Moves)
	require.Equal(t, 0.0, program.Totals.Seconds)
	require.Equal(t, 0.0, program.Totals.Distance)
}

func TestEstimateSkipsBlankAndCommentLines(t *testing.T) {
	program := Estimate("\n; header\n(setup)\nG0 X10\n\n", nil)
	require.Len(t, program.Moves, 1)
	require.Equal(t, 4, program.Moves[0].Line)
}

func TestEstimateLineNumbersMatchSource(t *testing.T) {
	program := Estimate("G0 X10\n; comment\nG1 Y5 F600", nil)
	require.Len(t, program.Moves, 2)
	require.Equal(t, 1, program.Moves[0].Line)
	require.Equal(t, 3, program.Moves[1].Line)
}

func TestEstimateLongCuttingMove(t *testing.T) {
	// 60mm at F600 is 10mm/s: 6s flat, no acceleration correction above the short move
	// threshold.
	program := Estimate("G1 X60 F600", nil)
	require.Len(t, program.Moves, 1)
	move := program.Moves[0]
	require.False(t, move.Rapid)
	require.InDelta(t, 60.0, move.Distance, 0.0001)
	require.InDelta(t, 6.0, move.Seconds, 0.0001)
}

func TestEstimateShortMoveAccelerationPenalty(t *testing.T) {
	// 1mm at F600 (10mm/s, a=500mm/s²): acceleration distance is 0.1mm, so the move cruises,
	// with a 2·(v/a) penalty: 0.1s + 0.04s.
	program := Estimate("G1 X1 F600", nil)
	require.Len(t, program.Moves, 1)
	require.InDelta(t, 0.14, program.Moves[0].Seconds, 0.0001)
}

func TestEstimateShortMoveTriangularProfile(t *testing.T) {
	// 1mm at F6000 (100mm/s, a=500mm/s²) can never reach cruise speed: triangular profile,
	// 2·sqrt(d·a)/a.
	program := Estimate("G1 X1 F6000", nil)
	require.Len(t, program.Moves, 1)
	expected := 2 * math.Sqrt(1*500) / 500
	require.InDelta(t, expected, program.Moves[0].Seconds, 0.0001)
}

func TestEstimateRapidSettle(t *testing.T) {
	config := DefaultEstimateConfig()
	// 50mm at 3000mm/min (50mm/s) is 1s, plus the settle buffer.
	program := Estimate("G0 X50", config)
	require.Len(t, program.Moves, 1)
	move := program.Moves[0]
	require.True(t, move.Rapid)
	require.InDelta(t, 1.0+config.RapidSettle.Seconds(), move.Seconds, 0.0001)
}

func TestEstimateStickyFeed(t *testing.T) {
	program := Estimate("G1 X60 F600\nG1 X120", nil)
	require.Len(t, program.Moves, 2)
	require.Equal(t, 600.0, program.Moves[1].Feed)
	require.InDelta(t, 6.0, program.Moves[1].Seconds, 0.0001)
}

func TestEstimateDefaultFeedBeforeFirstFWord(t *testing.T) {
	config := DefaultEstimateConfig()
	program := Estimate("G1 X100", config)
	require.Len(t, program.Moves, 1)
	require.Equal(t, config.DefaultFeedRate, program.Moves[0].Feed)
}

func TestEstimateMotionModalContinuation(t *testing.T) {
	// A bare axis word continues the active motion mode.
	program := Estimate("G1 X60 F600\nX120\nG0 X0\nX60", nil)
	require.Len(t, program.Moves, 4)
	require.False(t, program.Moves[1].Rapid)
	require.InDelta(t, 60.0, program.Moves[1].Distance, 0.0001)
	require.True(t, program.Moves[3].Rapid)
}

func TestEstimateAxisInheritance(t *testing.T) {
	program := Estimate("G0 X10 Y20 Z5\nG1 X30 F600", nil)
	require.Len(t, program.Moves, 2)
	require.Equal(t, Point{X: 30, Y: 20, Z: 5}, program.Moves[1].Target)
	require.InDelta(t, 20.0, program.Moves[1].Distance, 0.0001)
}

func TestEstimateZeroDistanceMove(t *testing.T) {
	program := Estimate("G0 X10\nG1 X10 F600", nil)
	require.Len(t, program.Moves, 2)
	require.Equal(t, 0.0, program.Moves[1].Distance)
	require.Equal(t, 0.0, program.Moves[1].Seconds)
}

func TestEstimateNonMotionCommandsHaveNoEffect(t *testing.T) {
	program := Estimate("G0 X10\nM3 S1000\nG4 P1\nG1 X20 F600", nil)
	require.Len(t, program.Moves, 4)
	require.Equal(t, "M3", program.Moves[1].Command)
	require.Equal(t, 0.0, program.Moves[1].Distance)
	require.Equal(t, 0.0, program.Moves[1].Seconds)
	require.Equal(t, Point{X: 10}, program.Moves[1].Target)
	require.InDelta(t, 10.0, program.Moves[3].Distance, 0.0001)
}

func TestEstimateMalformedLinesAreTolerated(t *testing.T) {
	program := Estimate("G0 X10\nlorem ipsum\nG1 X20 F600", nil)
	require.Len(t, program.Moves, 3)
	require.Equal(t, 0.0, program.Moves[1].Distance)
}

func TestEstimateTotalsAreSumOfMoves(t *testing.T) {
	program := Estimate("G0 X50\nG1 X100 F600\nM5\nG0 X0", nil)
	var seconds, distance, rapidSeconds, cuttingSeconds float64
	for _, move := range program.Moves {
		seconds += move.Seconds
		distance += move.Distance
		if move.Rapid {
			rapidSeconds += move.Seconds
		} else {
			cuttingSeconds += move.Seconds
		}
	}
	require.InDelta(t, seconds, program.Totals.Seconds, 0.0001)
	require.InDelta(t, distance, program.Totals.Distance, 0.0001)
	require.InDelta(t, rapidSeconds, program.Totals.RapidSeconds, 0.0001)
	require.InDelta(t, cuttingSeconds, program.Totals.CuttingSeconds, 0.0001)
	require.False(t, program.Totals.Completion.IsZero())
}
