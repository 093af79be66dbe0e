//go:build unix

package supervisor

import (
	"os"
	"syscall"
)

// signalAlive sends signal 0, which checks the process without affecting it.
func signalAlive(p *os.Process) error {
	return p.Signal(syscall.Signal(0))
}
