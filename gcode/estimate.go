package gcode

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Move is one parsed, executable line of a program, annotated with its resolved target and a
// physics based duration estimate. Moves are created once per Estimate() pass and are immutable
// thereafter.
type Move struct {
	// 1-based line number in the source text. Blank and comment-only lines are not recorded,
	// so numbers may be non-contiguous, but they always match the source for display.
	Line int
	// Original source line, verbatim.
	Raw string
	// Source line with comments stripped, as it would be sent to the controller.
	Text string
	// First G/M word, eg "G0". Empty for lines carrying only axis or feed words.
	Command string
	// Absolute position after this line. Axes absent from the line inherit the prior value.
	Target Point
	// Effective feed rate (mm/min) in effect for this line. Feed rate is sticky: it persists
	// across lines until overridden by an F word.
	Feed float64
	// Euclidean distance from the previous resolved position to Target.
	Distance float64
	// True for G0 class moves.
	Rapid bool
	// Estimated duration.
	Seconds float64
}

// Description renders a short human readable description of the activity this move performs.
func (m *Move) Description() string {
	if m.Distance > 0 {
		if m.Rapid {
			return fmt.Sprintf("rapid to %s", m.Target)
		}
		return fmt.Sprintf("cutting at F%.0f", m.Feed)
	}
	if m.Command != "" {
		return m.Command
	}
	return m.Text
}

// Totals aggregates a whole program's estimate.
type Totals struct {
	Seconds        float64
	RapidSeconds   float64
	CuttingSeconds float64
	Distance       float64
	// Projected wall-clock completion time, anchored at the moment Estimate() ran.
	Completion time.Time
}

// Program is the ordered move sequence plus totals for one parse pass. A new parse replaces the
// whole Program; it is never mutated in place.
type Program struct {
	Moves  []Move
	Totals Totals
}

// EstimateConfig holds the kinematic limits the duration model uses. The acceleration is a
// single scalar for the slowest axis, regardless of move direction; the reference behavior was
// built against this simplification and it is preserved as is.
type EstimateConfig struct {
	// Rapid (G0) traverse rate, mm/min.
	RapidRate float64
	// Feed rate assumed for cutting moves before any F word is seen, mm/min.
	DefaultFeedRate float64
	// Slowest axis acceleration, mm/s².
	Acceleration float64
	// Moves shorter than this (mm) get the acceleration correction.
	ShortMoveThreshold float64
	// Fixed settling buffer added to every rapid move, accounting for positioning overshoot.
	RapidSettle time.Duration
}

func DefaultEstimateConfig() *EstimateConfig {
	return &EstimateConfig{
		RapidRate:          3000,
		DefaultFeedRate:    1000,
		Acceleration:       500,
		ShortMoveThreshold: 10,
		RapidSettle:        50 * time.Millisecond,
	}
}

// moveSeconds estimates the duration of a single move of given length at the given rate
// (mm/min). Short moves may never reach cruise speed: below twice the distance needed to
// accelerate to cruise, the profile is triangular; otherwise a flat acceleration plus
// deceleration penalty is added.
func (c *EstimateConfig) moveSeconds(distance, rate float64, rapid bool) float64 {
	if distance == 0 {
		return 0
	}
	if rate <= 0 {
		rate = c.DefaultFeedRate
	}
	v := rate / 60
	a := c.Acceleration

	seconds := distance / v
	if a > 0 && distance < c.ShortMoveThreshold {
		accelDistance := (v * v) / (2 * a)
		if distance < 2*accelDistance {
			peak := math.Sqrt(distance * a)
			seconds = 2 * peak / a
		} else {
			seconds += 2 * (v / a)
		}
	}
	if rapid {
		seconds += c.RapidSettle.Seconds()
	}
	return seconds
}

// Commands that move the machine. Arcs (G2/G3) are estimated as straight lines to their
// endpoint.
var motionCommands = map[string]bool{
	"G0": true,
	"G1": true,
	"G2": true,
	"G3": true,
}

// Estimate parses a program and annotates every executable line with a duration estimate. The
// program is assumed to be in absolute mode; an axis letter absent from a line inherits the
// previous resolved coordinate. Parsing is lenient by design: unknown or malformed commands are
// recorded as zero-duration, zero-distance moves so line-number correlation with the source
// display remains intact.
func Estimate(text string, config *EstimateConfig) *Program {
	if config == nil {
		config = DefaultEstimateConfig()
	}

	program := &Program{}

	var position Point
	feed := config.DefaultFeedRate
	// Grbl's default motion modal state is G0.
	motion := "G0"

	for i, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSuffix(raw, "\r")
		line := StripComments(raw)
		if line == "" {
			continue
		}

		move := Move{
			Line: i + 1,
			Raw:  raw,
			Text: line,
		}

		var target Point = position
		var hasAxis bool
		var firstCommand string
		for _, w := range scanWords(line) {
			switch w.letter {
			case 'G', 'M':
				if firstCommand == "" {
					firstCommand = commandString(w)
				}
			case 'X':
				target.X = w.number
				hasAxis = true
			case 'Y':
				target.Y = w.number
				hasAxis = true
			case 'Z':
				target.Z = w.number
				hasAxis = true
			case 'F':
				feed = w.number
			}
		}
		move.Command = firstCommand
		move.Feed = feed

		// A line with a bare axis word continues the active motion mode; any other command
		// (M codes, G28, dwell, units...) is recorded as a zero-effect line.
		isMotion := motionCommands[firstCommand] || (firstCommand == "" && hasAxis)
		if motionCommands[firstCommand] {
			motion = firstCommand
		}

		if isMotion && hasAxis {
			move.Rapid = motion == "G0"
			move.Distance = position.Distance(target)
			move.Target = target
			position = target
		} else {
			move.Target = position
		}

		rate := move.Feed
		if move.Rapid {
			rate = config.RapidRate
		}
		move.Seconds = config.moveSeconds(move.Distance, rate, move.Rapid)

		program.Moves = append(program.Moves, move)

		program.Totals.Seconds += move.Seconds
		program.Totals.Distance += move.Distance
		if move.Rapid {
			program.Totals.RapidSeconds += move.Seconds
		} else {
			program.Totals.CuttingSeconds += move.Seconds
		}
	}

	program.Totals.Completion = time.Now().Add(time.Duration(program.Totals.Seconds * float64(time.Second)))

	return program
}
