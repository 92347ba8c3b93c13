// Package worker implements the worker lifecycle: the steps a freshly
// spawned, session-detached process runs to acquire a slot, announce its
// identity through the pid registry, and dispatch to the configured
// payload. It is invoked inside the detached process produced by
// internal/supervisor's daemonize step.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/vrosnet/hadc/internal/env"
	"github.com/vrosnet/hadc/internal/logger"
	"github.com/vrosnet/hadc/internal/pidreg"
	"github.com/vrosnet/hadc/internal/process"
	"github.com/vrosnet/hadc/internal/slotlock"
)

// Config carries everything Run needs to bring up one worker: slot
// allocator wiring, pid/stop-file locations, and process hygiene settings.
type Config struct {
	Name            string
	PIDDir          string
	StopFilePath    string
	LockDir         string
	StandbyLockDir  string
	MaxProcs        int
	StandbyMaxProcs int
	Interval        time.Duration
	Retries         any
	WorkDir         string
	Uid             int // 0 means "do not switch"
	Gid             int // 0 means "do not switch"
	Umask           int
	Env             []string
	Log             logger.Config
	Logger          *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Handle is passed to the payload once a slot has been acquired. It
// exposes configuration accessors and logging helpers; it never exposes
// the lock file itself, since only worker.Run manages the lock's lifetime.
type Handle struct {
	Kind   slotlock.Kind
	ID     int
	Config Config
	Logger *slog.Logger
}

// Label identifies the slot this Handle occupies, e.g. "main-2".
func (h *Handle) Label() string {
	return fmt.Sprintf("%s-%d", h.Kind, h.ID)
}

// Env returns the merged environment this worker's payload should run
// with: OS environment (already carrying HADC_lock_fd, set by Run just
// before payload dispatch) plus configured overrides. HADC_SLOT_LABEL is
// set ahead of the merge so a configured override can itself reference
// "${HADC_SLOT_LABEL}" (e.g. a per-slot log path).
func (h *Handle) Env() []string {
	e := env.New()
	e.FromOS()
	e.Set("HADC_SLOT_LABEL", h.Label())
	return e.Merge(h.Config.Env)
}

// Payload is the worker's unit of work: anything invoked once promotion to
// a slot (main, in practice) succeeds. Embedders implement this directly;
// CLI use goes through ExecPayload.
type Payload interface {
	Run(h *Handle, args []string) int
}

// PayloadFunc adapts a plain function to Payload.
type PayloadFunc func(h *Handle, args []string) int

func (f PayloadFunc) Run(h *Handle, args []string) int { return f(h, args) }

// ExecPayload runs an external program as the worker's payload, building
// its exec.Cmd the way process.Spec.BuildCommand does (shell-metacharacter
// detection, no double shell-wrapping) and its stdout/stderr appended to
// the plain files Log.Paths names (no rotation once exec'd), falling back
// to /dev/null when unconfigured.
type ExecPayload struct {
	Command string
	WorkDir string
	Log     logger.Config
}

// Run execs the configured command in place of the calling process: it
// never returns on success. The pid file worker.Run wrote for this slot
// already names this process's own pid, so replacing its image rather
// than forking a child means that pid goes on being the payload's real
// pid — a signal sent against it (internal/supervisor/signal.go) reaches
// the payload directly instead of an unmanaged wrapper that traps
// nothing and orphans its child. The slot's flock fd survives the exec
// (slotlock already clears FD_CLOEXEC on it for exactly this reason) and
// is released by the kernel whenever the payload eventually exits, with
// no further action needed from this package.
func (e ExecPayload) Run(h *Handle, args []string) int {
	spec := process.Spec{Name: h.Label(), Command: e.Command}
	cmd := spec.BuildCommand()
	cmd.Args = append(cmd.Args, args...)
	if cmd.Err != nil {
		h.Logger.Error("exec payload command not resolvable", "err", cmd.Err)
		return 1
	}

	if e.WorkDir != "" {
		if err := os.Chdir(e.WorkDir); err != nil {
			h.Logger.Error("exec payload chdir failed", "err", err)
			return 1
		}
	}

	stdoutPath, stderrPath := e.Log.Paths(h.Config.Name)
	if err := redirectStdio(stdoutPath, stderrPath); err != nil {
		h.Logger.Error("exec payload stdio redirect failed", "err", err)
		return 1
	}

	if err := syscall.Exec(cmd.Path, cmd.Args, h.Env()); err != nil {
		h.Logger.Error("exec payload failed", "err", err)
		return 1
	}
	return 0 // unreachable: syscall.Exec only returns on error
}

// redirectStdio dup2s fd 1 and 2 onto the given paths (or /dev/null when
// empty) ahead of an exec, since syscall.Exec carries the calling
// process's fd table into the new image rather than letting os/exec wire
// up fresh pipes.
func redirectStdio(stdoutPath, stderrPath string) error {
	if err := redirectFD(1, stdoutPath); err != nil {
		return err
	}
	return redirectFD(2, stderrPath)
}

func redirectFD(fd int, path string) error {
	if path == "" {
		devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		defer devnull.Close()
		return syscall.Dup2(int(devnull.Fd()), fd)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	return syscall.Dup2(int(f.Fd()), fd)
}

func stopFilePresent(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Run executes the full worker lifecycle described in spec.md §4.3:
// pre-payload stop-file guard, identity bootstrap, process hygiene, lock
// acquisition, and payload dispatch. It returns the process exit code the
// caller (cmd/hadcd) should use; fatal conditions terminate the process
// directly via os.Exit, matching the teacher's CRIT-log-then-exit
// propagation policy.
func Run(cfg Config, payload Payload, args []string) int {
	log := cfg.logger()
	pid := os.Getpid()

	if stopFilePresent(cfg.StopFilePath) {
		return 0
	}

	unknownPath := pidreg.Path(cfg.PIDDir, pidreg.KindUnknown, pid)
	if err := pidreg.Write(unknownPath, pid); err != nil {
		fatal(log, "write unknown pid file", err)
	}

	applyHygiene(log, cfg)

	allocator := &slotlock.Allocator{
		MaxProcs:        cfg.MaxProcs,
		StandbyMaxProcs: cfg.StandbyMaxProcs,
		LockDir:         cfg.LockDir,
		StandbyLockDir:  cfg.StandbyLockDir,
		Interval:        cfg.Interval,
		Retries:         cfg.Retries,
	}

	var standbyPath string
	hook := func(attempt int, standbySlot int) slotlock.HookDecision {
		if standbyPath == "" {
			standbyPath = pidreg.Path(cfg.PIDDir, pidreg.KindStandby, standbySlot)
			if err := pidreg.Rename(unknownPath, standbyPath); err != nil {
				log.Warn("rename to standby pid file failed", "err", err)
			}
		}
		if stopFilePresent(cfg.StopFilePath) {
			return slotlock.HookStop
		}
		return slotlock.HookContinue
	}

	slot, err := allocator.Acquire(context.Background(), hook)
	if err != nil {
		fatal(log, "acquire slot", err)
	}

	currentPath := unknownPath
	if standbyPath != "" {
		currentPath = standbyPath
	}

	if slot.Kind != slotlock.KindMain {
		_ = pidreg.Unlink(currentPath)
		return 1
	}

	mainPath := pidreg.Path(cfg.PIDDir, pidreg.KindMain, slot.ID)
	if err := pidreg.Rename(currentPath, mainPath); err != nil {
		fatal(log, "rename to main pid file", err)
	}

	if stopFilePresent(cfg.StopFilePath) {
		_ = pidreg.Unlink(mainPath)
		_ = slot.File.Close()
		return 0
	}

	h := &Handle{Kind: slot.Kind, ID: slot.ID, Config: cfg, Logger: log}
	rc := safeguardedRun(payload, h, args, int(slot.File.Fd()))
	_ = pidreg.Unlink(mainPath)
	_ = slot.File.Close()
	return rc
}

func safeguardedRun(p Payload, h *Handle, args []string, lockFD int) (rc int) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("worker payload panicked", "panic", r, "hadc.fatal", true)
			rc = 1
		}
	}()
	os.Setenv("HADC_lock_fd", strconv.Itoa(lockFD))
	return p.Run(h, args)
}

func applyHygiene(log *slog.Logger, cfg Config) {
	// Best-effort: the re-exec'd process is typically already a session
	// leader via SysProcAttr.Setsid in internal/supervisor's spawnWorker.
	_, _ = syscall.Setsid()

	if cfg.Gid != 0 {
		if err := syscall.Setgid(cfg.Gid); err != nil {
			fatal(log, "setgid", err)
		}
	}
	if cfg.Uid != 0 {
		if err := syscall.Setuid(cfg.Uid); err != nil {
			fatal(log, "setuid", err)
		}
	}
	if cfg.Umask != 0 {
		syscall.Umask(cfg.Umask)
	}
	if cfg.WorkDir != "" {
		if err := os.Chdir(cfg.WorkDir); err != nil {
			fatal(log, "chdir", err)
		}
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err, "hadc.fatal", true)
	os.Exit(1)
}
