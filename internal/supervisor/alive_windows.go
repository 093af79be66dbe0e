//go:build windows

package supervisor

import "os"

// signalAlive has no Windows equivalent; liveness comes from the waiter only.
func signalAlive(*os.Process) error {
	return nil
}
