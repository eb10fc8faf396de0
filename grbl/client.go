package grbl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Client owns the connection to Grbl: it reads lines from the port on a background worker and
// fans them out to a push message channel and an internal response message channel.
type Client struct {
	mu                         sync.Mutex
	openPortFn                 func(context.Context, *serial.Mode) (serial.Port, error)
	port                       serial.Port
	receiveCtxCancel           context.CancelFunc
	pushMessageCh              chan Message
	responseMessageCh          chan Message
	messageReceiverWorkerErrCh chan error
}

func NewClient(openPortFn func(context.Context, *serial.Mode) (serial.Port, error)) *Client {
	return &Client{
		openPortFn: openPortFn,
	}
}

func (c *Client) receiveMessage(ctx context.Context) (Message, error) {
	line := []byte{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grbl: receive message: context error: %w", err)
		}
		b := make([]byte, 1)

		n, err := c.port.Read(b)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("grbl: receive message: read error: %w", err)
		}
		if n == 0 {
			continue
		}
		if b[0] == '\n' {
			break
		}
		line = append(line, b[0])
	}

	if len(line) >= 1 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	message, err := NewMessage(string(line))
	if err != nil {
		return nil, fmt.Errorf("grbl: receive message: bad message: %w", err)
	}

	return message, nil
}

func (c *Client) messageReceiverWorker(ctx context.Context) {
	for {
		message, err := c.receiveMessage(ctx)
		if err != nil {
			// Unparseable lines carry no new information: skip them instead of tearing the
			// connection down.
			if errors.Is(err, ErrInvalidMessage) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			c.mu.Lock()
			close(c.pushMessageCh)
			c.pushMessageCh = nil
			c.mu.Unlock()
			c.messageReceiverWorkerErrCh <- err
			return
		}

		var messageCh chan Message
		switch message.Type() {
		case MessageTypePush:
			messageCh = c.pushMessageCh
		case MessageTypeResponse:
			messageCh = c.responseMessageCh
		default:
			panic(fmt.Sprintf("bug: unexpected message type: %#v", message.Type()))
		}

		select {
		case messageCh <- message:
		case <-ctx.Done():
			c.mu.Lock()
			close(c.pushMessageCh)
			c.pushMessageCh = nil
			c.mu.Unlock()
			c.messageReceiverWorkerErrCh <- nil
			return
		}
	}
}

// The TCP serial bridge does not reset Grbl on connect, so there may be no welcome message:
// instead, wake the firmware with a status report query and wait for any push message back.
func (c *Client) waitForFirstPushMessage(ctx context.Context) error {
	helloCtx, helloCtxCancel := context.WithDeadline(ctx, time.Now().Add(5*time.Second))
	defer helloCtxCancel()

	if err := c.SendRealTimeCommand(RealTimeCommandStatusReportQuery); err != nil {
		return err
	}

	for {
		select {
		case message, ok := <-c.pushMessageCh:
			if !ok {
				return errors.New("grbl: push message channel closed before first message received")
			}
			if _, ok := message.(*EmptyPushMessage); ok {
				continue
			}
			return nil
		case <-helloCtx.Done():
			return fmt.Errorf("grbl: no response from controller: %w", helloCtx.Err())
		}
	}
}

// Connect opens the port and waits for the controller to respond to a status report query.
// On success, it returns a channel where push messages received from Grbl are sent to: this
// channel must be read from in a loop to process the push messages. On read errors, the push
// message channel will be closed, and Disconnect() must be called in this case.
// Disconnect() must be called when the connection isn't needed anymore.
func (c *Client) Connect(ctx context.Context) (chan Message, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := c.openPortFn(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("grbl: port open error: %w", err)
	}

	// we need to set this to allow polling reads to support context cancellation / timeout
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		closeErr := port.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("grbl: port close error: %w", closeErr)
		}
		return nil, errors.Join(fmt.Errorf("grbl: error setting read timeout: %w", err), closeErr)
	}

	c.mu.Lock()

	c.port = port

	var receiveCtx context.Context
	receiveCtx, c.receiveCtxCancel = context.WithCancel(ctx)
	c.pushMessageCh = make(chan Message, 50)
	c.responseMessageCh = make(chan Message, 50)
	c.messageReceiverWorkerErrCh = make(chan error, 1)
	go c.messageReceiverWorker(receiveCtx)

	c.mu.Unlock()

	if err := c.waitForFirstPushMessage(ctx); err != nil {
		return nil, errors.Join(err, c.Disconnect(ctx))
	}

	return c.pushMessageCh, nil
}

// SendRealTimeCommand issues a real time command to Grbl.
func (c *Client) SendRealTimeCommand(cmd RealTimeCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return fmt.Errorf("grbl: disconnected")
	}
	data := []byte{byte(cmd)}
	n, err := c.port.Write(data)
	if err != nil {
		return fmt.Errorf("grbl: write to port error: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("grbl: write to port error: wrote %d bytes, expected %d", n, len(data))
	}
	return nil
}

func (c *Client) sendCommandRaw(command string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return fmt.Errorf("grbl: disconnected")
	}
	line := append([]byte(command), '\n')
	n, err := c.port.Write(line)
	if err != nil {
		return fmt.Errorf("grbl: write to port error: %w", err)
	}
	if n != len(line) {
		return fmt.Errorf("grbl: write to port error: wrote %d bytes, expected %d", n, len(command))
	}
	return nil
}

// SendCommand sends a command / system command to Grbl synchronously.
// It waits for the response message and returns it. The returned response only means the
// firmware accepted the text, not that any motion occurred or finished.
func (c *Client) SendCommand(ctx context.Context, command string) (*Response, error) {
	if strings.Contains(command, "\n") {
		return nil, fmt.Errorf("command must be single line string: %#v", command)
	}

	if err := c.sendCommandRaw(command); err != nil {
		return nil, err
	}

	var ok bool

	// If a previous command context was cancelled before the response message was processed,
	// it'll still be in the buffer. This ensures the buffer is empty before we wait, so the
	// response message we get relates to this command, not the previous.
	for {
		if len(c.responseMessageCh) == 0 {
			break
		}
		select {
		case _, ok = <-c.responseMessageCh:
			if !ok {
				return nil, fmt.Errorf("grbl: command failed: response message channel is closed")
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("grbl: command failed: %w", ctx.Err())
		}
	}

	var message Message
	select {
	case message, ok = <-c.responseMessageCh:
		if !ok {
			return nil, fmt.Errorf("grbl: command failed: response message channel is closed")
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("grbl: command failed: %w", ctx.Err())
	}
	response := message.(*Response)
	return response, nil
}

// Disconnect will stop all goroutines and close the port.
func (c *Client) Disconnect(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.port == nil {
		c.mu.Unlock()
		return
	}
	c.receiveCtxCancel()
	c.mu.Unlock()

	err = <-c.messageReceiverWorkerErrCh

	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.responseMessageCh)
	close(c.messageReceiverWorkerErrCh)
	err = errors.Join(err, c.port.Close())
	c.port = nil
	c.receiveCtxCancel = nil
	c.pushMessageCh = nil
	c.responseMessageCh = nil
	c.messageReceiverWorkerErrCh = nil
	return
}
