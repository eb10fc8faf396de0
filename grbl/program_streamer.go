package grbl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fornellas/slogxt/log"

	"github.com/fornellas/ngs/gcode"
)

var ErrEEPROMCommandNotSupported = errors.New("EEPROM related commands can not be streamed")

// DefaultMaxSerialRxBufferBytes is the serial RX buffer size of stock Grbl builds.
const DefaultMaxSerialRxBufferBytes = 128

type sentChunk struct {
	bytes int
	line  string
}

// ProgramStreamer sends a program to Grbl using character counting: it tracks how many bytes of
// the controller's RX buffer are in flight and only writes more when responses free up room.
// This keeps the planner buffer fed without ever overflowing the serial buffer.
type ProgramStreamer struct {
	client                 *Client
	maxSerialRxBufferBytes int

	availableBufferBytes int
	sentChunks           []sentChunk
}

func NewProgramStreamer(client *Client, maxSerialRxBufferBytes int) *ProgramStreamer {
	if maxSerialRxBufferBytes <= 0 {
		maxSerialRxBufferBytes = DefaultMaxSerialRxBufferBytes
	}
	return &ProgramStreamer{
		client:                 client,
		maxSerialRxBufferBytes: maxSerialRxBufferBytes,
	}
}

// isEEPROMCommand reports whether a line touches Grbl's EEPROM. Those commands stall the
// firmware while writing and break character counting.
func isEEPROMCommand(line string) bool {
	if strings.HasPrefix(line, "$") {
		return true
	}
	upper := strings.ToUpper(line)
	for _, command := range []string{"G10", "G28.1", "G30.1"} {
		if strings.Contains(upper, command) {
			return true
		}
	}
	return false
}

func (s *ProgramStreamer) writeChunk(chunk []byte) error {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	if s.client.port == nil {
		return fmt.Errorf("grbl: disconnected")
	}
	n, err := s.client.port.Write(chunk)
	if err != nil {
		return fmt.Errorf("grbl: write to port error: %w", err)
	}
	if n != len(chunk) {
		panic(fmt.Errorf("bug: write to port error: wrote %d bytes, expected %d", n, len(chunk)))
	}
	return nil
}

func (s *ProgramStreamer) waitForResponse(ctx context.Context) error {
	var message Message
	var ok bool
	select {
	case message, ok = <-s.client.responseMessageCh:
		if !ok {
			return fmt.Errorf("stream program: response message channel is closed")
		}
	case <-ctx.Done():
		return fmt.Errorf("stream program: %w", ctx.Err())
	}

	chunk := s.sentChunks[0]
	s.availableBufferBytes += chunk.bytes
	s.sentChunks = s.sentChunks[1:]

	response := message.(*Response)
	if err := response.Err(); err != nil {
		return fmt.Errorf("stream program: %q: %w", chunk.line, err)
	}
	return nil
}

func (s *ProgramStreamer) writeLine(ctx context.Context, line string) error {
	data := []byte(line + "\n")
	sent := 0
	for sent < len(data) {
		for s.availableBufferBytes == 0 {
			if err := s.waitForResponse(ctx); err != nil {
				return err
			}
		}

		end := min(sent+s.availableBufferBytes, len(data))
		chunk := data[sent:end]

		if err := s.writeChunk(chunk); err != nil {
			return err
		}

		sent += len(chunk)
		s.availableBufferBytes -= len(chunk)
	}

	s.sentChunks = append(s.sentChunks, sentChunk{bytes: len(data), line: line})
	return nil
}

// Run streams each move of the program in order, calling sentFn after each line enters the
// controller's buffer. It returns after all sent lines have been acknowledged, or on the first
// error response.
func (s *ProgramStreamer) Run(
	ctx context.Context, program *gcode.Program, sentFn func(move *gcode.Move),
) error {
	ctx, logger := log.MustWithGroup(ctx, "Program Streamer")

	s.availableBufferBytes = s.maxSerialRxBufferBytes
	s.sentChunks = []sentChunk{}

	for i := range program.Moves {
		move := &program.Moves[i]
		if len(move.Text) == 0 {
			continue
		}

		if isEEPROMCommand(move.Text) {
			return fmt.Errorf("%w: %s", ErrEEPROMCommandNotSupported, move.Text)
		}

		if err := s.writeLine(ctx, move.Text); err != nil {
			return err
		}

		logger.Debug("Sent", "line", move.Line, "text", move.Text)

		if sentFn != nil {
			sentFn(move)
		}
	}

	for len(s.sentChunks) > 0 {
		if err := s.waitForResponse(ctx); err != nil {
			return err
		}
	}

	if s.availableBufferBytes != s.maxSerialRxBufferBytes {
		panic(fmt.Errorf("bug: final availableBufferBytes %d differs from maxSerialRxBufferBytes %d", s.availableBufferBytes, s.maxSerialRxBufferBytes))
	}

	return nil
}
