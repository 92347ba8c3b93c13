package pidreg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadUnlink(t *testing.T) {
	dir := t.TempDir()
	p := Path(dir, KindMain, 1)

	if _, ok, err := Read(p); err != nil || ok {
		t.Fatalf("expected absent file, got ok=%v err=%v", ok, err)
	}

	if err := Write(p, os.Getpid()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pid, ok, err := Read(p)
	if err != nil || !ok {
		t.Fatalf("Read after write: ok=%v err=%v", ok, err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid mismatch: got %d want %d", pid, os.Getpid())
	}

	if err := Unlink(p); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, ok, err := Read(p); err != nil || ok {
		t.Fatalf("expected absent after unlink, got ok=%v err=%v", ok, err)
	}
	// Unlink on an absent file is a no-op.
	if err := Unlink(p); err != nil {
		t.Fatalf("Unlink on absent: %v", err)
	}
}

func TestRenameIsAtomicAcrossKinds(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown-1234.pid")
	if err := Write(unknown, 1234); err != nil {
		t.Fatalf("Write: %v", err)
	}
	standby := Path(dir, KindStandby, 3)
	if err := Rename(unknown, standby); err != nil {
		t.Fatalf("Rename to standby: %v", err)
	}
	if _, ok, _ := Read(unknown); ok {
		t.Fatalf("old path still present after rename")
	}
	pid, ok, err := Read(standby)
	if err != nil || !ok || pid != 1234 {
		t.Fatalf("standby pid file wrong: pid=%d ok=%v err=%v", pid, ok, err)
	}

	main := Path(dir, KindMain, 3)
	if err := Rename(standby, main); err != nil {
		t.Fatalf("Rename to main: %v", err)
	}
	pid, ok, err = Read(main)
	if err != nil || !ok || pid != 1234 {
		t.Fatalf("main pid file wrong: pid=%d ok=%v err=%v", pid, ok, err)
	}
}

func TestIsAliveSelfAndDeadPID(t *testing.T) {
	alive, _, err := IsAlive(os.Getpid())
	if err != nil || !alive {
		t.Fatalf("expected self to be alive: alive=%v err=%v", alive, err)
	}
	// A pid that (almost certainly) doesn't exist.
	alive, _, err = IsAlive(1 << 30)
	if err != nil {
		t.Fatalf("unexpected error for dead pid: %v", err)
	}
	if alive {
		t.Fatalf("expected dead pid to be reported not alive")
	}
}

func TestPidOfTypeTreatsStaleAsAbsent(t *testing.T) {
	dir := t.TempDir()
	p := Path(dir, KindMain, 2)
	if err := Write(p, 1<<30); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pid, live, err := PidOfType(dir, KindMain, 2)
	if err != nil {
		t.Fatalf("PidOfType: %v", err)
	}
	if live || pid != 0 {
		t.Fatalf("expected stale pid file treated as absent, got pid=%d live=%v", pid, live)
	}

	if err := Write(p, os.Getpid()); err != nil {
		t.Fatalf("Write live: %v", err)
	}
	pid, live, err = PidOfType(dir, KindMain, 2)
	if err != nil || !live || pid != os.Getpid() {
		t.Fatalf("expected live pid file, got pid=%d live=%v err=%v", pid, live, err)
	}
}

func TestPidOfTypeAbsentDir(t *testing.T) {
	dir := t.TempDir()
	pid, live, err := PidOfType(dir, KindStandby, 9)
	if err != nil || live || pid != 0 {
		t.Fatalf("expected absent, got pid=%d live=%v err=%v", pid, live, err)
	}
}
