package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////////////////////////
// Welcome
////////////////////////////////////////////////////////////////////////////////////////////////////

type WelcomePushMessage struct {
	Message string
}

func (m *WelcomePushMessage) Type() MessageType {
	return MessageTypePush
}

func (m *WelcomePushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Alarm
////////////////////////////////////////////////////////////////////////////////////////////////////

var alarmPushMessagePrefix = "ALARM:"

// Vanilla Grbl v1.1 alarm code descriptions.
var alarmDescriptionMap = map[int]string{
	1:  "Hard limit triggered. Machine position is likely lost due to sudden and immediate halt. Re-homing is highly recommended.",
	2:  "G-code motion target exceeds machine travel. Machine position safely retained. Alarm may be unlocked.",
	3:  "Reset while in motion. Grbl cannot guarantee position. Lost steps are likely. Re-homing is highly recommended.",
	4:  "Probe fail. The probe is not in the expected initial state before starting probe cycle.",
	5:  "Probe fail. Probe did not contact the workpiece within the programmed travel.",
	6:  "Homing fail. Reset during active homing cycle.",
	7:  "Homing fail. Safety door was opened during active homing cycle.",
	8:  "Homing fail. Cycle failed to clear limit switch when pulling off. Try increasing pull-off setting or check wiring.",
	9:  "Homing fail. Could not find limit switch within search distance.",
	10: "Homing fail. On dual axis machines, could not find the second limit switch for self-squaring.",
}

type AlarmPushMessage struct {
	Message string
	Code    int
}

func NewAlarmPushMessage(message string) (*AlarmPushMessage, error) {
	code, err := strconv.Atoi(message[len(alarmPushMessagePrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: unable to parse alarm number: %#v", ErrInvalidMessage, message)
	}
	return &AlarmPushMessage{
		Message: message,
		Code:    code,
	}, nil
}

func (m *AlarmPushMessage) Type() MessageType {
	return MessageTypePush
}

func (m *AlarmPushMessage) String() string {
	return m.Message
}

// Err translates the alarm code to a human readable error. Unknown codes degrade to a
// generic message instead of failing.
func (m *AlarmPushMessage) Err() error {
	if description, ok := alarmDescriptionMap[m.Code]; ok {
		return errors.New(description)
	}
	return fmt.Errorf("unknown (%s)", m.Message)
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Feedback
////////////////////////////////////////////////////////////////////////////////////////////////////

type FeedbackPushMessage struct {
	Message string
}

func (m *FeedbackPushMessage) Type() MessageType {
	return MessageTypePush
}

func (m *FeedbackPushMessage) String() string {
	return m.Message
}

func (m *FeedbackPushMessage) Text() string {
	return strings.TrimSuffix(strings.TrimPrefix(m.Message, "[MSG:"), "]")
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// StatusReport
////////////////////////////////////////////////////////////////////////////////////////////////////

type State string

var StateIdle State = "Idle"
var StateRun State = "Run"
var StateHold State = "Hold"
var StateJog State = "Jog"
var StateAlarm State = "Alarm"
var StateDoor State = "Door"
var StateCheck State = "Check"
var StateHome State = "Home"
var StateSleep State = "Sleep"
var StateUnknown State = ""

var knownStates = map[State]bool{
	StateIdle:  true,
	StateRun:   true,
	StateHold:  true,
	StateJog:   true,
	StateAlarm: true,
	StateDoor:  true,
	StateCheck: true,
	StateHome:  true,
	StateSleep: true,
}

// Motion returns true for states where the machine is moving or a motion operation is pending
// completion: Run, Jog, Home, Hold and Door.
func (s State) Motion() bool {
	switch s {
	case StateRun, StateJog, StateHome, StateHold, StateDoor:
		return true
	}
	return false
}

type MachineState struct {
	// Valid states: Idle, Run, Hold, Jog, Alarm, Door, Check, Home, Sleep
	State State
	// Current sub-states are:
	// - `Hold:0` Hold complete. Ready to resume.
	// - `Hold:1` Hold in-progress. Reset will throw an alarm.
	// - `Door:0` Door closed. Ready to resume.
	// - `Door:1` Machine stopped. Door still ajar. Can't resume until closed.
	// - `Door:2` Door opened. Hold (or parking retract) in-progress. Reset will throw an alarm.
	// - `Door:3` Door closed and resuming. Restoring from park, if applicable. Reset will throw an alarm.
	SubState *int
}

func NewMachineState(dataField string) (*MachineState, error) {
	parts := strings.Split(dataField, ":")
	if len(parts) > 2 {
		return nil, fmt.Errorf("machine state field malformed: %#v", dataField)
	}
	state := State(parts[0])
	var subStatePtr *int
	if len(parts) == 2 {
		subState, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("machine state substate invalid: %#v", dataField)
		}
		subStatePtr = &subState
	}
	if _, ok := knownStates[state]; !ok {
		return nil, fmt.Errorf("unknown machine state: %#v", state)
	}

	return &MachineState{
		State:    state,
		SubState: subStatePtr,
	}, nil
}

func (m *MachineState) SubStateString() string {
	if m.SubState == nil {
		return ""
	}
	switch m.State {
	case StateHold:
		switch *m.SubState {
		case 0:
			return "complete"
		case 1:
			return "in-progress"
		}
	case StateDoor:
		switch *m.SubState {
		case 0:
			return "closed"
		case 1:
			return "ajar"
		case 2:
			return "opened"
		case 3:
			return "resuming"
		}
	}
	return fmt.Sprintf("unknown (%d)", *m.SubState)
}

// StatusReportPushMessage is a decoded `<...>` status report.
// MachinePosition is mandatory; WorkPosition and WorkCoordinateOffset are optional, as Grbl does
// not send them on every report. Unknown data fields (Bf, FS, Pn, Ov, ...) are tolerated and
// ignored.
type StatusReportPushMessage struct {
	Message              string
	MachineState         MachineState
	MachinePosition      Position
	WorkPosition         *Position
	WorkCoordinateOffset *Position
}

// ResolveWorkPosition returns the work position for this report. An explicitly reported work
// position is authoritative; otherwise it is derived as machine position minus the given last
// known work coordinate offset. Returns nil when neither is derivable.
func (m *StatusReportPushMessage) ResolveWorkPosition(lastOffset *Position) *Position {
	if m.WorkPosition != nil {
		return m.WorkPosition
	}
	if m.WorkCoordinateOffset != nil {
		workPosition := m.MachinePosition.Sub(*m.WorkCoordinateOffset)
		return &workPosition
	}
	if lastOffset != nil {
		workPosition := m.MachinePosition.Sub(*lastOffset)
		return &workPosition
	}
	return nil
}

func NewStatusReportPushMessage(message string) (*StatusReportPushMessage, error) {
	// Some firmwares append the "ok" acknowledgement to the same line.
	text := strings.TrimSpace(message)
	text = strings.TrimSpace(strings.TrimSuffix(text, messageResponseOk))

	if !strings.HasPrefix(text, "<") || !strings.HasSuffix(text, ">") {
		return nil, fmt.Errorf("%w: status report message not surrounded by <>: %#v", ErrInvalidMessage, message)
	}

	dataFields := strings.Split(text[1:len(text)-1], "|")

	machineState, err := NewMachineState(dataFields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: status report message parsing failed: %#v: %s", ErrInvalidMessage, message, err)
	}

	statusReportPushMessage := &StatusReportPushMessage{
		Message:      message,
		MachineState: *machineState,
	}

	var machinePosition *Position
	for _, dataField := range dataFields[1:] {
		parts := strings.SplitN(dataField, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: status report message malformed data field: %#v: %#v", ErrInvalidMessage, message, dataField)
		}
		dataType := parts[0]
		dataValues := strings.Split(parts[1], ",")

		switch dataType {
		case "MPos":
			machinePosition, err = NewPositionFromStrValues(dataValues)
			if err != nil {
				return nil, fmt.Errorf("%w: status report message: failed to parse MPos: %s", ErrInvalidMessage, err)
			}
		case "WPos":
			statusReportPushMessage.WorkPosition, err = NewPositionFromStrValues(dataValues)
			if err != nil {
				return nil, fmt.Errorf("%w: status report message: failed to parse WPos: %s", ErrInvalidMessage, err)
			}
		case "WCO":
			statusReportPushMessage.WorkCoordinateOffset, err = NewPositionFromStrValues(dataValues)
			if err != nil {
				return nil, fmt.Errorf("%w: status report message: failed to parse WCO: %s", ErrInvalidMessage, err)
			}
		}
	}

	if machinePosition == nil {
		return nil, fmt.Errorf("%w: status report message missing MPos: %#v", ErrInvalidMessage, message)
	}
	statusReportPushMessage.MachinePosition = *machinePosition

	return statusReportPushMessage, nil
}

func (m *StatusReportPushMessage) Type() MessageType {
	return MessageTypePush
}

func (m *StatusReportPushMessage) String() string {
	return m.Message
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// Empty
////////////////////////////////////////////////////////////////////////////////////////////////////

type EmptyPushMessage struct {
}

func (m *EmptyPushMessage) Type() MessageType {
	return MessageTypePush
}

func (m *EmptyPushMessage) String() string {
	return "(empty)"
}

////////////////////////////////////////////////////////////////////////////////////////////////////
// New
////////////////////////////////////////////////////////////////////////////////////////////////////

// NewMessage decodes a single line received from Grbl. Unparseable lines return
// ErrInvalidMessage, which callers must treat as "no new information" rather than faulting.
func NewMessage(message string) (Message, error) {
	if message == messageResponseOk || strings.HasPrefix(message, messageResponseErrorPrefix) {
		return &Response{Message: message}, nil
	}
	if strings.HasPrefix(message, "Grbl ") {
		return &WelcomePushMessage{Message: message}, nil
	}
	if strings.HasPrefix(message, alarmPushMessagePrefix) {
		return NewAlarmPushMessage(message)
	}
	if strings.HasPrefix(message, "[MSG:") {
		return &FeedbackPushMessage{Message: message}, nil
	}
	if strings.HasPrefix(message, "<") {
		return NewStatusReportPushMessage(message)
	}
	if len(strings.TrimSpace(message)) == 0 {
		return &EmptyPushMessage{}, nil
	}
	return nil, fmt.Errorf("%w: %#v", ErrInvalidMessage, message)
}
