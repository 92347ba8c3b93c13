package worker

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/vrosnet/hadc/internal/pidreg"
)

// redirectFD is exercised directly rather than through ExecPayload.Run:
// Run's whole point is to syscall.Exec the calling process away, which
// would tear down the test binary itself if invoked in-process.
func TestRedirectFDWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	fd, err := syscall.Open(os.DevNull, syscall.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open spare fd: %v", err)
	}
	defer syscall.Close(fd)

	if err := redirectFD(fd, path); err != nil {
		t.Fatalf("redirectFD: %v", err)
	}
	if _, err := syscall.Write(fd, []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello\n" {
		t.Fatalf("unexpected file contents: %q", got)
	}
}

func TestRedirectFDDevNullWhenPathEmpty(t *testing.T) {
	fd, err := syscall.Open(os.DevNull, syscall.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open spare fd: %v", err)
	}
	defer syscall.Close(fd)

	if err := redirectFD(fd, ""); err != nil {
		t.Fatalf("redirectFD with empty path: %v", err)
	}
	if _, err := syscall.Write(fd, []byte("discarded")); err != nil {
		t.Fatalf("write to /dev/null-redirected fd: %v", err)
	}
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Name:            "test",
		PIDDir:          dir,
		StopFilePath:    filepath.Join(dir, "standby-stop-file"),
		LockDir:         filepath.Join(dir, "lock"),
		StandbyLockDir:  filepath.Join(dir, "lock-standby"),
		MaxProcs:        1,
		StandbyMaxProcs: 1,
	}
}

func TestRunAcquiresMainAndDispatchesPayload(t *testing.T) {
	cfg := newTestConfig(t)

	var gotKind int
	var gotID int
	var gotLockFD string
	payload := PayloadFunc(func(h *Handle, args []string) int {
		gotKind = int(h.Kind)
		gotID = h.ID
		gotLockFD = os.Getenv("HADC_lock_fd")
		return 7
	})

	rc := Run(cfg, payload, nil)
	if rc != 7 {
		t.Fatalf("expected payload's return code 7, got %d", rc)
	}
	if gotID != 1 {
		t.Fatalf("expected slot id 1, got %d", gotID)
	}
	if gotLockFD == "" || gotLockFD == "-1" {
		t.Fatalf("expected HADC_lock_fd to be set to a real fd, got %q", gotLockFD)
	}
	if int(gotKind) == 0 {
		t.Fatalf("expected a non-zero slot kind")
	}

	mainPath := pidreg.Path(cfg.PIDDir, pidreg.KindMain, 1)
	if _, ok, _ := pidreg.Read(mainPath); ok {
		t.Fatalf("expected main pid file to be unlinked after payload return")
	}
}

func TestRunExposesSlotLabelThroughEnv(t *testing.T) {
	cfg := newTestConfig(t)

	var gotLabel string
	var gotEnvVar string
	payload := PayloadFunc(func(h *Handle, args []string) int {
		gotLabel = h.Label()
		for _, kv := range h.Env() {
			if len(kv) > len("HADC_SLOT_LABEL=") && kv[:len("HADC_SLOT_LABEL=")] == "HADC_SLOT_LABEL=" {
				gotEnvVar = kv[len("HADC_SLOT_LABEL="):]
			}
		}
		return 0
	})

	if rc := Run(cfg, payload, nil); rc != 0 {
		t.Fatalf("unexpected exit code: %d", rc)
	}
	if gotLabel != "main-1" {
		t.Fatalf("expected label main-1, got %q", gotLabel)
	}
	if gotEnvVar != gotLabel {
		t.Fatalf("expected HADC_SLOT_LABEL=%s in Env(), got %q", gotLabel, gotEnvVar)
	}
}

func TestRunStopFileGuardBeforeBootstrap(t *testing.T) {
	cfg := newTestConfig(t)
	if err := os.WriteFile(cfg.StopFilePath, nil, 0o640); err != nil {
		t.Fatalf("write stop file: %v", err)
	}

	called := false
	payload := PayloadFunc(func(h *Handle, args []string) int {
		called = true
		return 0
	})

	rc := Run(cfg, payload, nil)
	if rc != 0 {
		t.Fatalf("expected exit 0 under stop file, got %d", rc)
	}
	if called {
		t.Fatalf("payload should not run when stop file present before bootstrap")
	}

	unknownPath := pidreg.Path(cfg.PIDDir, pidreg.KindUnknown, os.Getpid())
	if _, ok, _ := pidreg.Read(unknownPath); ok {
		t.Fatalf("expected no unknown pid file written under pre-bootstrap stop guard")
	}
}

func TestRunNoSlotAvailableUnlinksAndReturnsOne(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.StandbyMaxProcs = 0

	if err := os.MkdirAll(cfg.LockDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held, err := os.OpenFile(filepath.Join(cfg.LockDir, "1.lock"), os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		t.Fatalf("open held lock: %v", err)
	}
	defer held.Close()
	if err := syscall.Flock(int(held.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		t.Fatalf("flock: %v", err)
	}

	called := false
	payload := PayloadFunc(func(h *Handle, args []string) int {
		called = true
		return 0
	})

	rc := Run(cfg, payload, nil)
	if rc != 1 {
		t.Fatalf("expected exit 1 when no slot available, got %d", rc)
	}
	if called {
		t.Fatalf("payload should not run when no slot was acquired")
	}
}

func TestRunPayloadPanicRecovered(t *testing.T) {
	cfg := newTestConfig(t)
	payload := PayloadFunc(func(h *Handle, args []string) int {
		panic("boom")
	})

	rc := Run(cfg, payload, nil)
	if rc != 1 {
		t.Fatalf("expected recovered panic to report exit 1, got %d", rc)
	}
}
