//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// gracefulSignals returns the signals serve treats as a graceful shutdown
// request.
func gracefulSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}
