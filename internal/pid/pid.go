package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/jefry5/energy-monitor-si/internal/errors"
)

const pidFile = "energysim.pid"

// Write writes the current process ID to a PID file, refusing to start when
// another live instance owns it. Two simulators on one broker would double
// every sequence stream.
func Write() error {
	pid := os.Getpid()
	path := filepath.Join(os.TempDir(), pidFile)

	if _, err := os.Stat(path); err == nil {
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(errors.ErrInternal, err)
		}

		oldPid, err := strconv.Atoi(string(bytes))
		if err == nil {
			process, err := os.FindProcess(oldPid)
			if err == nil && process.Signal(syscall.Signal(0)) == nil {
				return errors.New(errors.ErrAlreadyRunning)
			}
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return errors.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove() error {
	path := filepath.Join(os.TempDir(), pidFile)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errors.Wrap(errors.ErrInternal, err)
	}

	return nil
}
