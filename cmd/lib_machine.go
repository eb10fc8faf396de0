package main

import (
	"time"

	"github.com/spf13/cobra"

	gcodeMod "github.com/fornellas/ngs/gcode"
	jobMod "github.com/fornellas/ngs/job"
	opstateMod "github.com/fornellas/ngs/opstate"
)

var rapidRate float64
var acceleration float64
var defaultFeed float64
var closeness float64
var pollInterval time.Duration
var dwell time.Duration

var defaultPollInterval = 200 * time.Millisecond

// AddMachineFlags registers the kinematic model flags. The defaults match a common hobby
// gantry; set them to your machine's $110/$120 values for accurate estimates.
func AddMachineFlags(cmd *cobra.Command) {
	defaultEstimateConfig := gcodeMod.DefaultEstimateConfig()
	cmd.PersistentFlags().Float64VarP(
		&rapidRate, "rapid-rate", "", defaultEstimateConfig.RapidRate,
		"Rapid (G0) traverse rate, mm/min",
	)
	cmd.PersistentFlags().Float64VarP(
		&acceleration, "acceleration", "", defaultEstimateConfig.Acceleration,
		"Slowest axis acceleration, mm/s^2",
	)
	cmd.PersistentFlags().Float64VarP(
		&defaultFeed, "default-feed", "", defaultEstimateConfig.DefaultFeedRate,
		"Feed rate assumed before the program sets one, mm/min",
	)
}

func AddSessionFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Float64VarP(
		&closeness, "closeness", "", jobMod.DefaultCloseness,
		"Maximum distance (mm) between reported position and programmed path for progress matching",
	)
	cmd.PersistentFlags().DurationVarP(
		&pollInterval, "poll-interval", "", defaultPollInterval,
		"Status report polling interval",
	)
	cmd.PersistentFlags().DurationVarP(
		&dwell, "dwell", "", opstateMod.DefaultDwell,
		"Minimum running time before an Idle status report counts as completion",
	)
}

func GetEstimateConfig() *gcodeMod.EstimateConfig {
	estimateConfig := gcodeMod.DefaultEstimateConfig()
	estimateConfig.RapidRate = rapidRate
	estimateConfig.Acceleration = acceleration
	estimateConfig.DefaultFeedRate = defaultFeed
	return estimateConfig
}

func init() {
	defaultEstimateConfig := gcodeMod.DefaultEstimateConfig()
	resetFlagsFns = append(resetFlagsFns, func() {
		rapidRate = defaultEstimateConfig.RapidRate
		acceleration = defaultEstimateConfig.Acceleration
		defaultFeed = defaultEstimateConfig.DefaultFeedRate
		closeness = jobMod.DefaultCloseness
		pollInterval = defaultPollInterval
		dwell = opstateMod.DefaultDwell
	})
}
