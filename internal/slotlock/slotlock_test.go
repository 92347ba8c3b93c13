package slotlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	dir := t.TempDir()
	return &Allocator{
		MaxProcs:        2,
		StandbyMaxProcs: 1,
		LockDir:         filepath.Join(dir, "lock"),
		StandbyLockDir:  filepath.Join(dir, "lock-standby"),
		Interval:        10 * time.Millisecond,
	}
}

func holdLock(t *testing.T, dir string, id int) *os.File {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.lock", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatalf("flock: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestAcquireMainSlotWhenFree(t *testing.T) {
	a := newTestAllocator(t)
	slot, err := a.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Kind != KindMain || slot.ID != 1 {
		t.Fatalf("expected main slot 1, got %+v", slot)
	}
	defer slot.File.Close()
}

func TestAcquireSkipsHeldMainSlot(t *testing.T) {
	a := newTestAllocator(t)
	holdLock(t, a.LockDir, 1)

	slot, err := a.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Kind != KindMain || slot.ID != 2 {
		t.Fatalf("expected main slot 2, got %+v", slot)
	}
	defer slot.File.Close()
}

func TestAcquireFallsBackToStandbyThenPromotes(t *testing.T) {
	a := newTestAllocator(t)
	h1 := holdLock(t, a.LockDir, 1)
	holdLock(t, a.LockDir, 2)

	var gotAttempt, gotStandbySlot int
	go func() {
		time.Sleep(30 * time.Millisecond)
		h1.Close()
	}()

	hook := func(attempt int, standbySlot int) HookDecision {
		gotAttempt, gotStandbySlot = attempt, standbySlot
		return HookContinue
	}

	slot, err := a.Acquire(context.Background(), hook)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Kind != KindMain || slot.ID != 1 {
		t.Fatalf("expected promotion to main slot 1, got %+v", slot)
	}
	if gotAttempt == 0 || gotStandbySlot != 1 {
		t.Fatalf("expected hook invocation with standby slot 1, got attempt=%d slot=%d", gotAttempt, gotStandbySlot)
	}
	defer slot.File.Close()
}

func TestAcquireHookStopReleasesStandby(t *testing.T) {
	a := newTestAllocator(t)
	holdLock(t, a.LockDir, 1)
	holdLock(t, a.LockDir, 2)

	slot, err := a.Acquire(context.Background(), func(attempt, standbySlot int) HookDecision {
		return HookStop
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Kind != KindNone {
		t.Fatalf("expected KindNone after HookStop, got %+v", slot)
	}

	// Standby lock must have been released: a fresh allocator can take it.
	b := &Allocator{MaxProcs: 0, StandbyMaxProcs: 1, StandbyLockDir: a.StandbyLockDir, LockDir: a.LockDir, Interval: a.Interval}
	reacquired := false
	slot2, err := b.Acquire(context.Background(), func(attempt, standbySlot int) HookDecision {
		reacquired = true
		return HookStop
	})
	if err != nil {
		t.Fatalf("Acquire (second allocator): %v", err)
	}
	if !reacquired {
		t.Fatalf("expected the second allocator to take the released standby slot")
	}
	if slot2.Kind != KindNone {
		t.Fatalf("expected KindNone again, got %+v", slot2)
	}
}

func TestAcquireNoSlotsAtAllReturnsNone(t *testing.T) {
	a := newTestAllocator(t)
	a.StandbyMaxProcs = 0
	holdLock(t, a.LockDir, 1)
	holdLock(t, a.LockDir, 2)

	slot, err := a.Acquire(context.Background(), nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if slot.Kind != KindNone {
		t.Fatalf("expected KindNone, got %+v", slot)
	}
}

func TestRetryAllowed(t *testing.T) {
	if !retryAllowed(nil, 100) {
		t.Fatalf("nil retries should always allow")
	}
	if retryAllowed(3, 4) {
		t.Fatalf("int retries should stop past the bound")
	}
	if !retryAllowed(3, 3) {
		t.Fatalf("int retries should allow at the bound")
	}
	if !retryAllowed(func(attempt int) bool { return attempt < 5 }, 4) {
		t.Fatalf("predicate retries should be consulted")
	}
}
