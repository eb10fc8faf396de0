package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fornellas/slogxt/log"
)

// Exit resets flag state (required for command re-execution from tests and scripts) and exits.
func Exit(code int) {
	ResetFlags()
	os.Exit(code)
}

// GetRunFn wraps a command function with uniform error handling: errors are logged and turn
// into exit status 1.
func GetRunFn(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if err := fn(cmd, args); err != nil {
			logger := log.MustLogger(cmd.Context())
			logger.Error("Failed", "err", err)
			Exit(1)
		}
	}
}
