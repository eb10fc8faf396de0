package grbl

import (
	"fmt"
)

// RealTimeCommand is a single byte command Grbl executes immediately, outside the regular
// command / response cycle.
type RealTimeCommand byte

var (
	// Soft-Reset
	RealTimeCommandSoftReset RealTimeCommand = 0x18
	// Status Report Query
	RealTimeCommandStatusReportQuery RealTimeCommand = '?'
	// Cycle Start / Resume
	RealTimeCommandCycleStartResume RealTimeCommand = '~'
	// Feed Hold
	RealTimeCommandFeedHold RealTimeCommand = '!'
	// Jog Cancel
	RealTimeCommandJogCancel RealTimeCommand = 0x85
)

var realTimeCommandStringsMap = map[RealTimeCommand]string{
	RealTimeCommandSoftReset:         "Soft-Reset",
	RealTimeCommandStatusReportQuery: "Status Report Query",
	RealTimeCommandCycleStartResume:  "Cycle Start / Resume",
	RealTimeCommandFeedHold:          "Feed Hold",
	RealTimeCommandJogCancel:         "Jog Cancel",
}

func (c RealTimeCommand) String() string {
	if str, ok := realTimeCommandStringsMap[c]; ok {
		return str
	}
	return fmt.Sprintf("Unknown (%#v)", byte(c))
}
