package grbl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	t.Run("ok response", func(t *testing.T) {
		message, err := NewMessage("ok")
		require.NoError(t, err)
		response, ok := message.(*Response)
		require.True(t, ok)
		require.True(t, response.Ok())
		require.NoError(t, response.Err())
	})

	t.Run("error response", func(t *testing.T) {
		message, err := NewMessage("error:20")
		require.NoError(t, err)
		response, ok := message.(*Response)
		require.True(t, ok)
		require.False(t, response.Ok())
		require.Error(t, response.Err())
	})

	t.Run("unknown error code", func(t *testing.T) {
		message, err := NewMessage("error:9999")
		require.NoError(t, err)
		response, ok := message.(*Response)
		require.True(t, ok)
		require.Error(t, response.Err())
	})

	t.Run("welcome", func(t *testing.T) {
		message, err := NewMessage("Grbl 1.1h ['$' for help]")
		require.NoError(t, err)
		_, ok := message.(*WelcomePushMessage)
		require.True(t, ok)
	})

	t.Run("alarm", func(t *testing.T) {
		message, err := NewMessage("ALARM:1")
		require.NoError(t, err)
		alarm, ok := message.(*AlarmPushMessage)
		require.True(t, ok)
		require.Equal(t, 1, alarm.Code)
		require.Error(t, alarm.Err())
	})

	t.Run("feedback", func(t *testing.T) {
		message, err := NewMessage("[MSG:Reset to continue]")
		require.NoError(t, err)
		feedback, ok := message.(*FeedbackPushMessage)
		require.True(t, ok)
		require.Equal(t, "Reset to continue", feedback.Text())
	})

	t.Run("empty", func(t *testing.T) {
		message, err := NewMessage("")
		require.NoError(t, err)
		_, ok := message.(*EmptyPushMessage)
		require.True(t, ok)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := NewMessage("lorem ipsum")
		require.ErrorIs(t, err, ErrInvalidMessage)
	})
}

func TestNewStatusReportPushMessage(t *testing.T) {
	t.Run("machine position only", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Idle|MPos:10.000,20.000,-5.000|FS:0,0>")
		require.NoError(t, err)
		require.Equal(t, StateIdle, statusReport.MachineState.State)
		require.Equal(t, Position{X: 10, Y: 20, Z: -5}, statusReport.MachinePosition)
		require.Nil(t, statusReport.WorkPosition)
		require.Nil(t, statusReport.WorkCoordinateOffset)
	})

	t.Run("explicit work position", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Run|MPos:10.000,20.000,-5.000|WPos:1.000,2.000,3.000>")
		require.NoError(t, err)
		require.NotNil(t, statusReport.WorkPosition)
		require.Equal(t, Position{X: 1, Y: 2, Z: 3}, *statusReport.WorkPosition)
	})

	t.Run("work coordinate offset", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Idle|MPos:10.000,20.000,-5.000|WCO:10.000,10.000,0.000>")
		require.NoError(t, err)
		require.NotNil(t, statusReport.WorkCoordinateOffset)
		require.Equal(t, Position{X: 10, Y: 10, Z: 0}, *statusReport.WorkCoordinateOffset)
	})

	t.Run("hold with substate", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Hold:0|MPos:0.000,0.000,0.000>")
		require.NoError(t, err)
		require.Equal(t, StateHold, statusReport.MachineState.State)
		require.NotNil(t, statusReport.MachineState.SubState)
		require.Equal(t, 0, *statusReport.MachineState.SubState)
		require.Equal(t, "complete", statusReport.MachineState.SubStateString())
	})

	t.Run("door substates", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Door:1|MPos:0.000,0.000,0.000>")
		require.NoError(t, err)
		require.Equal(t, "ajar", statusReport.MachineState.SubStateString())

		statusReport, err = NewStatusReportPushMessage("<Door:9|MPos:0.000,0.000,0.000>")
		require.NoError(t, err)
		require.Equal(t, "unknown (9)", statusReport.MachineState.SubStateString())
	})

	t.Run("trailing ok", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Idle|MPos:0.000,0.000,0.000>ok")
		require.NoError(t, err)
		require.Equal(t, StateIdle, statusReport.MachineState.State)
	})

	t.Run("unknown fields ignored", func(t *testing.T) {
		statusReport, err := NewStatusReportPushMessage("<Idle|MPos:0.000,0.000,0.000|Bf:15,128|Ln:99|Frobnicate:1,2>")
		require.NoError(t, err)
		require.Equal(t, StateIdle, statusReport.MachineState.State)
	})

	t.Run("missing machine position", func(t *testing.T) {
		_, err := NewStatusReportPushMessage("<Idle|FS:0,0>")
		require.Error(t, err)
	})

	t.Run("malformed field", func(t *testing.T) {
		_, err := NewStatusReportPushMessage("<Idle|MPos:banana,20.000,-5.000>")
		require.Error(t, err)
	})
}

func TestStatusReportResolveWorkPosition(t *testing.T) {
	mPosOnly, err := NewStatusReportPushMessage("<Idle|MPos:10.000,20.000,-5.000>")
	require.NoError(t, err)

	t.Run("no offset known", func(t *testing.T) {
		require.Nil(t, mPosOnly.ResolveWorkPosition(nil))
	})

	t.Run("derived from cached offset", func(t *testing.T) {
		workPosition := mPosOnly.ResolveWorkPosition(&Position{X: 10, Y: 10, Z: 0})
		require.NotNil(t, workPosition)
		require.Equal(t, Position{X: 0, Y: 10, Z: -5}, *workPosition)
	})

	t.Run("explicit work position is authoritative", func(t *testing.T) {
		withWPos, err := NewStatusReportPushMessage("<Idle|MPos:10.000,20.000,-5.000|WPos:1.000,2.000,3.000>")
		require.NoError(t, err)
		workPosition := withWPos.ResolveWorkPosition(&Position{X: 99, Y: 99, Z: 99})
		require.Equal(t, Position{X: 1, Y: 2, Z: 3}, *workPosition)
	})

	t.Run("offset in the same report wins over cached", func(t *testing.T) {
		withWCO, err := NewStatusReportPushMessage("<Idle|MPos:10.000,20.000,-5.000|WCO:10.000,10.000,0.000>")
		require.NoError(t, err)
		workPosition := withWCO.ResolveWorkPosition(&Position{X: 99, Y: 99, Z: 99})
		require.Equal(t, Position{X: 0, Y: 10, Z: -5}, *workPosition)
	})
}
