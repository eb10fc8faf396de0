package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/fornellas/ngs/serialtcp"
)

var portName string
var defaultPortName = ""

var address string
var defaultAddress = ""

var dialTimeout time.Duration
var defaultDialTimeout = 10 * time.Second

func AddPortFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&portName, "port-name", "p", defaultPortName, "Serial port name to open")
	cmd.PersistentFlags().StringVarP(&address, "address", "a", defaultAddress, "TCP address of a serial bridge to connect to")
	cmd.PersistentFlags().DurationVarP(&dialTimeout, "dial-timeout", "", defaultDialTimeout, "TCP dial timeout when connecting via --address")
}

func GetOpenPortFn() (func(context.Context, *serial.Mode) (serial.Port, error), error) {
	if portName != "" && address != "" {
		return nil, fmt.Errorf("flags --port-name and --address can not be set simultaneously")
	}

	if portName != "" {
		return func(ctx context.Context, mode *serial.Mode) (serial.Port, error) {
			return serial.Open(portName, mode)
		}, nil
	}

	if address != "" {
		return func(ctx context.Context, mode *serial.Mode) (serial.Port, error) {
			return serialtcp.Dial(ctx, address, dialTimeout)
		}, nil
	}

	return nil, fmt.Errorf("either --port-name or --address must be set")
}

func init() {
	resetFlagsFns = append(resetFlagsFns, func() {
		portName = defaultPortName
		address = defaultAddress
		dialTimeout = defaultDialTimeout
	})
}
