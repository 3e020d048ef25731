//go:build windows

package transport

import "os"

func signalTerminate(process *os.Process) error {
	return process.Kill()
}

func signalKill(process *os.Process) error {
	return process.Kill()
}
