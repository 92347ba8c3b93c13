package supervisor

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/vrosnet/hadc/internal/pidreg"
)

// escalation is the signal sequence a graceful stop walks through,
// unchanged from spec.md: TERM, TERM, INT, KILL.
var escalation = []syscall.Signal{syscall.SIGTERM, syscall.SIGTERM, syscall.SIGINT, syscall.SIGKILL}

// stopGracefully walks the escalation sequence against pid, polling for
// exit after each signal. Each step gets the full configured timeout, not
// a fraction of it, matching spec.md's "each followed by kill_timeout
// seconds of polling" and restartMain's use of the same timeout per step.
func stopGracefully(pid int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = time.Second
	}
	for _, sig := range escalation {
		if err := sendSignal(pid, sig); err != nil {
			if errors.Is(err, syscall.ESRCH) {
				return nil
			}
			return err
		}
		if waitForExit(pid, timeout) {
			return nil
		}
	}
	alive, _, err := pidreg.IsAlive(pid)
	if err != nil {
		return err
	}
	if alive {
		return fmt.Errorf("supervisor: pid %d still alive after signal escalation", pid)
	}
	return nil
}

// sendSignal applies spec.md's kill(pid, sig) error taxonomy: ESRCH is
// treated as success, EPERM is fatal ("needs root"), any other errno is
// fatal.
func sendSignal(pid int, sig syscall.Signal) error {
	err := syscall.Kill(pid, sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ESRCH):
		return err
	case errors.Is(err, syscall.EPERM):
		return fmt.Errorf("supervisor: signal %d to pid %d needs root: %w", sig, pid, err)
	default:
		return fmt.Errorf("supervisor: signal %d to pid %d: %w", sig, pid, err)
	}
}

func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		alive, _, err := pidreg.IsAlive(pid)
		if err != nil || !alive {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
}
