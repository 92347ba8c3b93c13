package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/vrosnet/hadc/internal/metrics"
	"github.com/vrosnet/hadc/internal/pidreg"
	"github.com/vrosnet/hadc/internal/slotlock"
)

// SlotStatus is one observed slot: its identity, pid, and liveness.
type SlotStatus struct {
	Kind  slotlock.Kind
	ID    int
	PID   int
	Alive bool
}

// PopulationStatus is a full snapshot across both populations.
type PopulationStatus struct {
	Mains    []SlotStatus
	Standbys []SlotStatus
}

// Start removes the stop-file sentinel (if present) and reconciles both
// populations up to their configured sizes.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := os.Remove(s.Config.StopFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: remove stop file: %w", err)
	}
	mainsOK := s.forkUntil(ctx, s.Config.MaxProcs, slotlock.KindMain)
	standbysOK := s.forkUntil(ctx, s.Config.StandbyMaxProcs, slotlock.KindStandby)
	s.recordObservability(ctx, slotlock.KindMain)
	s.recordObservability(ctx, slotlock.KindStandby)
	if !mainsOK || !standbysOK {
		s.detectStolenLock()
		return fmt.Errorf("supervisor: start did not reach target population (mains ok=%v, standbys ok=%v)", mainsOK, standbysOK)
	}
	return nil
}

// detectStolenLock implements spec.md §4.4's stolen-lock heuristic: if the
// standby population reached its full configured size but mains still
// fell short, every standby that could have promoted did, which means the
// remaining main slots are held by something the supervisor never spawned.
func (s *Supervisor) detectStolenLock() {
	mains := s.currentlyRunning(slotlock.KindMain)
	standbys := s.currentlyRunning(slotlock.KindStandby)
	if mains < s.Config.MaxProcs && standbys == s.Config.StandbyMaxProcs {
		metrics.IncStolenLock(slotlock.KindMain.String())
		s.Logger.Warn("something is possibly holding a main lock outside this supervisor",
			"mains_running", mains, "mains_expected", s.Config.MaxProcs)
	}
}

// Stop creates the stop-file sentinel so standbys exit without promoting,
// waits for them to drain, then signals every live main with the
// escalating TERM/TERM/INT/KILL sequence. Success requires both
// populations to reach zero.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.currentlyRunning(slotlock.KindMain)+s.currentlyRunning(slotlock.KindStandby) == 0 {
		return nil
	}
	if err := writeStopFile(s.Config.StopFilePath); err != nil {
		return err
	}
	s.waitStandbysZero(ctx, s.Config.standbyTimeout())
	err := s.stopMains(stopGracefully)
	s.recordObservability(ctx, slotlock.KindMain)
	s.recordObservability(ctx, slotlock.KindStandby)
	if err != nil {
		return err
	}
	if n := s.currentlyRunning(slotlock.KindMain); n != 0 {
		return fmt.Errorf("supervisor: stop left %d main(s) running", n)
	}
	if n := s.currentlyRunning(slotlock.KindStandby); n != 0 {
		return fmt.Errorf("supervisor: stop left %d standby(ies) running", n)
	}
	return nil
}

// HardRestart is spec.md's "stop then start": the full graceful Stop
// sequence (drain standbys, then escalate TERM/TERM/INT/KILL against
// mains) followed by Start. Unlike Restart it makes no attempt to keep a
// main slot continuously occupied during the transition.
func (s *Supervisor) HardRestart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Restart reconciles both populations with minimal main downtime when a
// standby population exists to absorb it: it drains standbys, restarts
// each main slot one at a time (letting a freshly respawned standby
// promote into the freed slot), then tops both populations back up. When
// nothing is running it delegates to Start; when there is no standby
// population to promote, there is nothing to gain from the one-at-a-time
// sequence and it delegates to HardRestart instead.
func (s *Supervisor) Restart(ctx context.Context) error {
	if s.currentlyRunning(slotlock.KindMain)+s.currentlyRunning(slotlock.KindStandby) == 0 {
		return s.Start(ctx)
	}
	if s.Config.StandbyMaxProcs <= 0 {
		return s.HardRestart(ctx)
	}

	if err := writeStopFile(s.Config.StopFilePath); err != nil {
		return err
	}
	s.waitStandbysZero(ctx, s.Config.standbyTimeout())

	if err := os.Remove(s.Config.StopFilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: remove stop file: %w", err)
	}
	s.forkUntil(ctx, s.Config.StandbyMaxProcs, slotlock.KindStandby)

	for id := 1; id <= s.Config.MaxProcs; id++ {
		if err := s.restartMain(ctx, id); err != nil {
			s.Logger.Warn("restart main slot failed", "slot", id, "err", err)
		}
	}

	mainsOK := s.forkUntil(ctx, s.Config.MaxProcs, slotlock.KindMain)
	standbysOK := s.forkUntil(ctx, s.Config.StandbyMaxProcs, slotlock.KindStandby)
	s.recordObservability(ctx, slotlock.KindMain)
	s.recordObservability(ctx, slotlock.KindStandby)
	if !mainsOK || !standbysOK {
		return fmt.Errorf("supervisor: restart did not reach target population (mains ok=%v, standbys ok=%v)", mainsOK, standbysOK)
	}
	return nil
}

// waitStandbysZero polls at 1-second granularity for the standby
// population to drain to zero, up to timeout.
func (s *Supervisor) waitStandbysZero(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if s.currentlyRunning(slotlock.KindStandby) == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
		}
	}
}

// restartMain signals the current holder of main slot id through the
// escalation sequence, waiting after each signal for a standby to promote
// into a *different* live pid in the same slot's pid file. Success means
// promotion happened, not merely that the old pid died; an absent slot is
// already successful (nothing to restart).
func (s *Supervisor) restartMain(ctx context.Context, id int) error {
	path := pidreg.Path(s.Config.PIDDir, pidreg.KindMain, id)
	oldPID, live, err := pidreg.PidOfType(s.Config.PIDDir, pidreg.KindMain, id)
	if err != nil {
		return err
	}
	if !live {
		return nil
	}

	timeout := s.Config.KillTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	for _, sig := range escalation {
		if err := sendSignal(oldPID, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
			return err
		}
		if s.waitForPromotion(ctx, path, oldPID, timeout) {
			return nil
		}
	}
	return fmt.Errorf("supervisor: main slot %d saw no promotion after signal escalation", id)
}

// waitForPromotion polls path for a pid different from oldPID that is
// itself live, up to timeout.
func (s *Supervisor) waitForPromotion(ctx context.Context, path string, oldPID int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if pid, ok, err := pidreg.Read(path); err == nil && ok && pid != oldPID {
			if alive, _, _ := pidreg.IsAlive(pid); alive {
				return true
			}
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Reload sends SIGHUP to every expected main slot that currently has a
// live pid, asking the payload to re-read its own configuration in
// place. It does not touch population sizes or the stop file: a payload
// that doesn't handle SIGHUP simply ignores it.
func (s *Supervisor) Reload(ctx context.Context) error {
	var firstErr error
	for id := 1; id <= s.Config.MaxProcs; id++ {
		pid, live, err := pidreg.PidOfType(s.Config.PIDDir, pidreg.KindMain, id)
		if err != nil || !live {
			continue
		}
		if err := sendSignal(pid, syscall.SIGHUP); err != nil && !errors.Is(err, syscall.ESRCH) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fork tops up both populations to their configured sizes, spawning the
// current deficit of each without waiting for completeness; used to top
// up populations externally, e.g. after an operator notices a gap in
// status without running a full start/reload. A present stop file means
// standbys are draining on purpose, so Fork refuses outright.
func (s *Supervisor) Fork(ctx context.Context) error {
	if _, err := os.Stat(s.Config.StopFilePath); err == nil {
		return fmt.Errorf("supervisor: stop file present, refusing to fork")
	}
	s.forkOnce(ctx, s.Config.MaxProcs, slotlock.KindMain)
	s.forkOnce(ctx, s.Config.StandbyMaxProcs, slotlock.KindStandby)
	return nil
}

// Status gathers a live snapshot of both populations, flagging a pid file
// that claims a slot whose lock file is, in fact, currently unheld: the
// worker that wrote it lost or never took the lock it claims.
func (s *Supervisor) Status() PopulationStatus {
	return PopulationStatus{
		Mains:    s.slotStatuses(slotlock.KindMain),
		Standbys: s.slotStatuses(slotlock.KindStandby),
	}
}

// slotStatuses reports one SlotStatus per expected slot id, 1..max,
// regardless of whether a pid file exists for it: a slot that was never
// started is still an expected slot, and must show up as not running
// rather than vanish from the snapshot.
func (s *Supervisor) slotStatuses(kind slotlock.Kind) []SlotStatus {
	out := make([]SlotStatus, 0, s.Config.maxForKind(kind))
	for id := 1; id <= s.Config.maxForKind(kind); id++ {
		path := pidreg.Path(s.Config.PIDDir, s.Config.pidKind(kind), id)
		pid, ok, err := pidreg.Read(path)
		if err != nil || !ok {
			out = append(out, SlotStatus{Kind: kind, ID: id, Alive: false})
			continue
		}
		alive, _ := s.isAlive(pid)
		if alive && s.lockAppearsFree(kind, id) {
			metrics.IncStolenLock(kind.String())
			s.Logger.Warn("pid file claims a lock it does not hold", "kind", kind.String(), "slot", id, "pid", pid)
		}
		out = append(out, SlotStatus{Kind: kind, ID: id, PID: pid, Alive: alive})
	}
	return out
}

// lockAppearsFree probes, without blocking, whether the lock file for
// (kind, id) is actually held by anyone. A free lock alongside a live pid
// file is the stolen-lock condition: the pid file was not cleaned up but
// no process actually holds that slot's lock anymore.
func (s *Supervisor) lockAppearsFree(kind slotlock.Kind, id int) bool {
	held, err := slotlock.Probe(s.Config.lockDirForKind(kind), id)
	if err != nil {
		return false
	}
	return !held
}

func (s *Supervisor) stopMains(stop func(pid int, timeout time.Duration) error) error {
	timeout := s.Config.KillTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var firstErr error
	for id := 1; id <= s.Config.MaxProcs; id++ {
		pid, live, err := pidreg.PidOfType(s.Config.PIDDir, pidreg.KindMain, id)
		if err != nil || !live {
			continue
		}
		if err := stop(pid, timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeStopFile(path string) error {
	if path == "" {
		return fmt.Errorf("supervisor: stop file path not configured")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("supervisor: write stop file: %w", err)
	}
	return f.Close()
}

// PrettyPrint renders one slot line as
// "<name>: <kind #id>  [<status>]" (two spaces before the bracketed
// status, per spec.md §4.5), with ANSI color unless HADC_NO_COLORS is
// set, matching internal/logger's ColorTextHandler palette (green for
// alive, red for stopped).
func PrettyPrint(name string, st SlotStatus) string {
	status := "stopped"
	color := "\033[31m"
	if st.Alive {
		status = "running"
		color = "\033[32m"
	}
	label := fmt.Sprintf("%s-%d", st.Kind.String(), st.ID)
	label = strings.Replace(label, "-", " #", 1)
	line := fmt.Sprintf("%s: %s  [%s]", name, label, status)
	if os.Getenv("HADC_NO_COLORS") != "" {
		return line
	}
	return color + line + "\033[0m"
}
