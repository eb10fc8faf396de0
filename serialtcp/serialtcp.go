// Package serialtcp adapts a TCP connection to a serial/Ethernet bridge (eg an ESP-Link or a
// ser2net host) to the serial.Port interface, so the Grbl client can use either transport.
package serialtcp

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/fornellas/slogxt/log"
	"go.bug.st/serial"
)

// Port partially implements the serial.Port interface over a TCP connection. Line settings are
// the bridge's responsibility, so mode related methods return not supported errors.
type Port struct {
	conn        net.Conn
	readTimeout time.Duration
}

func Dial(ctx context.Context, address string, timeout time.Duration) (*Port, error) {
	logger := log.MustLogger(ctx)
	logger.Info("Dialing serial bridge", "address", address, "timeout", timeout)
	dialer := &net.Dialer{
		Timeout: timeout,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Port{conn: conn}, nil
}

// Read honors the configured read timeout via the connection's read deadline. On timeout the
// returned error satisfies errors.Is(err, os.ErrDeadlineExceeded), same as a local serial port
// read timing out with a zero count.
func (p *Port) Read(b []byte) (n int, err error) {
	deadline := time.Time{}
	if p.readTimeout != serial.NoTimeout {
		deadline = time.Now().Add(p.readTimeout)
	}
	if err := p.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return p.conn.Read(b)
}

func (p *Port) Write(b []byte) (n int, err error) {
	return p.conn.Write(b)
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.readTimeout = t
	return nil
}

func (p *Port) Close() error {
	return p.conn.Close()
}

func (p *Port) SetMode(mode *serial.Mode) error {
	return errors.New("not supported")
}

func (p *Port) Drain() error {
	return errors.New("not supported")
}

func (p *Port) ResetInputBuffer() error {
	return errors.New("not supported")
}

func (p *Port) ResetOutputBuffer() error {
	return errors.New("not supported")
}

func (p *Port) SetDTR(dtr bool) error {
	return errors.New("not supported")
}

func (p *Port) SetRTS(rts bool) error {
	return errors.New("not supported")
}

func (p *Port) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return nil, errors.New("not supported")
}

func (p *Port) Break(time.Duration) error {
	return errors.New("not supported")
}
