// Package supervisor owns the reconciliation loop driving the control
// commands (start, stop, restart, hard_restart, status, reload, fork)
// that keep the observed main/standby population matching the configured
// one. Unlike the teacher's manager/handler/supervisor
// trio, which supervises in-process for the lifetime of one long-running
// process, a supervisor.Supervisor here runs once per hadcd invocation and
// exits, handing continuous supervision to the OS-level standby processes
// it spawned.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vrosnet/hadc/internal/detector"
	"github.com/vrosnet/hadc/internal/history"
	"github.com/vrosnet/hadc/internal/logger"
	"github.com/vrosnet/hadc/internal/metrics"
	"github.com/vrosnet/hadc/internal/pidreg"
	"github.com/vrosnet/hadc/internal/slotlock"
	"github.com/vrosnet/hadc/internal/store"
)

// WorkerArg is the argv[1] a re-exec'd hadcd binary recognizes as "become
// a worker instead of dispatching a CLI command".
const WorkerArg = "__worker"

// Config describes one supervised population: the program to run, its
// pid/lock/stop-file locations, expected population sizes, and timeouts.
type Config struct {
	Name            string
	ConfigPath      string
	PIDDir          string
	StopFilePath    string
	LockDir         string
	StandbyLockDir  string
	MaxProcs        int
	StandbyMaxProcs int
	Interval        time.Duration
	Retries         int
	KillTimeout     time.Duration
	StandbyTimeout  time.Duration
	MainTimeout     time.Duration
	Log             logger.Config

	// HealthCheck, when set, supplements pidreg.IsAlive's kill(pid,0)
	// liveness probe: a slot whose HealthCheck.Alive() returns false counts
	// as not alive; a probe error leaves the kill(pid,0) result standing.
	// Nil means kill(pid,0) alone decides liveness.
	HealthCheck detector.Detector

	// ProcessMetrics, when Enabled, turns on per-slot CPU/memory/thread
	// gauges collected once per reconciliation pass (see observability.go).
	ProcessMetrics metrics.ProcessMetricsConfig
}

func (c Config) standbyTimeout() time.Duration {
	if c.StandbyTimeout > 0 {
		return c.StandbyTimeout
	}
	if c.Interval > 0 {
		return c.Interval + 3*time.Second
	}
	return 4 * time.Second
}

func (c Config) mainTimeout() time.Duration {
	if c.MainTimeout > 0 {
		return c.MainTimeout
	}
	return c.standbyTimeout()
}

func (c Config) timeoutFor(kind slotlock.Kind) time.Duration {
	if kind == slotlock.KindMain {
		return c.mainTimeout()
	}
	return c.standbyTimeout()
}

func (c Config) maxForKind(kind slotlock.Kind) int {
	if kind == slotlock.KindMain {
		return c.MaxProcs
	}
	return c.StandbyMaxProcs
}

func (c Config) lockDirForKind(kind slotlock.Kind) string {
	if kind == slotlock.KindMain {
		return c.LockDir
	}
	return c.StandbyLockDir
}

func (c Config) pidKind(kind slotlock.Kind) pidreg.Kind {
	if kind == slotlock.KindMain {
		return pidreg.KindMain
	}
	return pidreg.KindStandby
}

// Supervisor reconciles one Config's population for the duration of a
// single command invocation.
type Supervisor struct {
	Config Config
	Logger *slog.Logger

	// SpawnFunc defaults to the re-exec daemonize implementation; tests
	// substitute a fake that simulates a worker reaching a slot without
	// actually forking a process.
	SpawnFunc func(ctx context.Context) error

	// Store and History are optional observability hooks consulted after
	// every reconciliation pass. Both are nil by default (no-op); wiring
	// either is the caller's (cmd/hadcd's) responsibility.
	Store   store.Store
	History []history.Sink

	// procMetrics is non-nil when Config.ProcessMetrics.Enabled; driven
	// once per reconciliation pass by recordObservability.
	procMetrics *metrics.ProcessMetricsCollector
}

// New returns a Supervisor ready to run commands against cfg.
func New(cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("register metrics failed", "err", err)
	}
	s := &Supervisor{Config: cfg, Logger: log}
	s.SpawnFunc = s.spawnWorker
	if cfg.ProcessMetrics.Enabled {
		s.procMetrics = metrics.NewProcessMetricsCollector(cfg.ProcessMetrics)
		if err := s.procMetrics.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("register process metrics failed", "err", err)
		}
	}
	return s
}

// spawnWorker re-executes the current binary in worker mode, detached into
// its own session, and returns as soon as the child has started. Grounded
// on cmd/provisr/daemon.go / daemon_unix.go: idiomatic Go cannot safely
// raw-fork mid-process, so re-exec with Setsid substitutes for the
// textbook double fork. Any exec failure is fatal to the calling command.
func (s *Supervisor) spawnWorker(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("supervisor: resolve executable: %w", err)
	}

	args := []string{WorkerArg}
	if s.Config.ConfigPath != "" {
		args = append(args, "--config", s.Config.ConfigPath)
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil

	if outW, errW, werr := s.Config.Log.Writers(s.Config.Name); werr == nil {
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: spawn worker: %w", err)
	}
	return cmd.Process.Release()
}

// currentlyRunning counts live workers of kind across its slot range.
func (s *Supervisor) currentlyRunning(kind slotlock.Kind) int {
	n := 0
	for id := 1; id <= s.Config.maxForKind(kind); id++ {
		pid, ok, err := pidreg.Read(pidreg.Path(s.Config.PIDDir, s.Config.pidKind(kind), id))
		if err != nil || !ok {
			continue
		}
		if alive, err := s.isAlive(pid); err == nil && alive {
			n++
		}
	}
	return n
}

// isAlive reports whether pid is a running worker: kill(pid,0) must agree
// it exists, and, when a health-check command is configured, the command
// must also exit zero. The health check only narrows liveness (a process
// that fails it no longer counts as running); a probe error is logged and
// does not override a confirmed-live kill(pid,0) result.
func (s *Supervisor) isAlive(pid int) (bool, error) {
	alive, _, err := pidreg.IsAlive(pid)
	if err != nil || !alive || s.Config.HealthCheck == nil {
		return alive, err
	}
	ok, herr := s.Config.HealthCheck.Alive()
	if herr != nil {
		s.Logger.Warn("health check probe failed", "detector", s.Config.HealthCheck.Describe(), "err", herr)
		return true, nil
	}
	return ok, nil
}

// forkOnce spawns the current deficit for kind exactly once, without
// polling for the population to reach expected afterward. Used by Fork,
// which tops up populations externally without waiting for completeness.
func (s *Supervisor) forkOnce(ctx context.Context, expected int, kind slotlock.Kind) {
	deficit := expected - s.currentlyRunning(kind)
	for i := 0; i < deficit; i++ {
		if err := s.SpawnFunc(ctx); err != nil {
			s.Logger.Error("spawn worker failed", "kind", kind.String(), "err", err)
			metrics.IncReconcileFailure(kind.String())
			continue
		}
		metrics.IncWorkerStart(kind.String())
	}
}

// forkUntil is the reconciliation primitive used for both mains and
// standbys: up to 3 rounds, each spawning the deficit and polling at
// 1-second granularity for up to the kind's timeout for the population to
// reach expected.
func (s *Supervisor) forkUntil(ctx context.Context, expected int, kind slotlock.Kind) bool {
	timeout := s.Config.timeoutFor(kind)
	for round := 1; round <= 3; round++ {
		start := time.Now()
		current := s.currentlyRunning(kind)
		deficit := expected - current
		for i := 0; i < deficit; i++ {
			if err := s.SpawnFunc(ctx); err != nil {
				s.Logger.Error("spawn worker failed", "kind", kind.String(), "round", round, "err", err)
				metrics.IncReconcileFailure(kind.String())
				continue
			}
			metrics.IncWorkerStart(kind.String())
		}

		deadline := time.Now().Add(timeout)
		for {
			if s.currentlyRunning(kind) >= expected {
				metrics.ObserveReconcileDuration(kind.String(), time.Since(start).Seconds())
				metrics.SetPopulationSize(kind.String(), s.currentlyRunning(kind))
				return true
			}
			if !time.Now().Before(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(time.Second):
			}
		}
	}
	metrics.IncReconcileFailure(kind.String())
	metrics.SetPopulationSize(kind.String(), s.currentlyRunning(kind))
	return s.currentlyRunning(kind) >= expected
}
