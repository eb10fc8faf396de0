package grbl

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/ngs/gcode"
)

type fakePort struct {
	written bytes.Buffer
	// Largest single Write, to assert chunking never exceeds the controller's free buffer.
	maxWriteBytes int
}

func (p *fakePort) Read(b []byte) (int, error) {
	return 0, errors.New("not supported")
}

func (p *fakePort) Write(b []byte) (int, error) {
	if len(b) > p.maxWriteBytes {
		p.maxWriteBytes = len(b)
	}
	return p.written.Write(b)
}

func (p *fakePort) SetMode(mode *serial.Mode) error           { return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error      { return nil }
func (p *fakePort) Close() error                              { return nil }
func (p *fakePort) Drain() error                              { return nil }
func (p *fakePort) ResetInputBuffer() error                   { return nil }
func (p *fakePort) ResetOutputBuffer() error                  { return nil }
func (p *fakePort) SetDTR(dtr bool) error                     { return nil }
func (p *fakePort) SetRTS(rts bool) error                     { return nil }
func (p *fakePort) Break(d time.Duration) error               { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, errors.New("not supported")
}

func newStreamerTestClient(responses ...string) (*Client, *fakePort) {
	port := &fakePort{}
	client := &Client{
		port:              port,
		responseMessageCh: make(chan Message, 50),
	}
	for _, response := range responses {
		client.responseMessageCh <- &Response{Message: response}
	}
	return client, port
}

func TestProgramStreamerRun(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))

	program := gcode.Estimate("G0 X10\nG1 X20 F600\nG1 Y5", nil)
	require.Len(t, program.Moves, 3)

	client, port := newStreamerTestClient("ok", "ok", "ok")

	var sent []int
	streamer := NewProgramStreamer(client, 16)
	err := streamer.Run(ctx, program, func(move *gcode.Move) {
		sent = append(sent, move.Line)
	})
	require.NoError(t, err)

	require.Equal(t, "G0 X10\nG1 X20 F600\nG1 Y5\n", port.written.String())
	require.Equal(t, []int{1, 2, 3}, sent)
	require.LessOrEqual(t, port.maxWriteBytes, 16)
}

func TestProgramStreamerErrorResponseAborts(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))

	program := gcode.Estimate("G0 X10\nG1 X20 F600\nG1 Y5", nil)

	client, _ := newStreamerTestClient("ok", "error:33", "ok")

	streamer := NewProgramStreamer(client, 16)
	err := streamer.Run(ctx, program, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "G1 X20 F600")
}

func TestProgramStreamerRejectsEEPROMCommands(t *testing.T) {
	ctx := log.WithLogger(t.Context(), slog.New(slog.DiscardHandler))

	program := gcode.Estimate("G0 X10\nG10 L20 P1 X0", nil)

	client, _ := newStreamerTestClient("ok", "ok")

	streamer := NewProgramStreamer(client, 16)
	err := streamer.Run(ctx, program, nil)
	require.ErrorIs(t, err, ErrEEPROMCommandNotSupported)
}

func TestIsEEPROMCommand(t *testing.T) {
	require.True(t, isEEPROMCommand("$H"))
	require.True(t, isEEPROMCommand("G10 L20 P1 X0"))
	require.True(t, isEEPROMCommand("G28.1"))
	require.False(t, isEEPROMCommand("G1 X10"))
	require.False(t, isEEPROMCommand("G28"))
}
