package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hadc.toml")
	if err := os.WriteFile(path, []byte(body), 0o640); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 2
standby_max_procs = 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File.Name != "payments" || cfg.File.MaxProcs != 2 {
		t.Fatalf("unexpected config: %+v", cfg.File)
	}
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeTOML(t, `name = "payments"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing pid_dir/program/max_procs")
	}
}

func TestLoadFallsBackToEnvVar(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 1
`)
	t.Setenv("HADC_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.File.Name != "payments" {
		t.Fatalf("unexpected config: %+v", cfg.File)
	}
}

func TestWorkerConfigDerivesDefaultPaths(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 2
standby_max_procs = 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	wc := cfg.WorkerConfig()
	if wc.LockDir != "/tmp/hadc/payments/lock" {
		t.Fatalf("unexpected lock dir: %s", wc.LockDir)
	}
	if wc.StandbyLockDir != "/tmp/hadc/payments/lock-standby" {
		t.Fatalf("unexpected standby lock dir: %s", wc.StandbyLockDir)
	}
	if wc.StopFilePath != "/tmp/hadc/payments/standby-stop-file" {
		t.Fatalf("unexpected stop file: %s", wc.StopFilePath)
	}
}

func TestSupervisorConfigHonorsExplicitLockPaths(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 1
lock_path = "/custom/lock"
standby_lock_path = "/custom/lock-standby"
stop_file = "/custom/stop"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sc := cfg.SupervisorConfig()
	if sc.LockDir != "/custom/lock" || sc.StandbyLockDir != "/custom/lock-standby" || sc.StopFilePath != "/custom/stop" {
		t.Fatalf("unexpected supervisor config: %+v", sc)
	}
}

func TestSupervisorConfigSelectsHealthCheckDetector(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 1
health_check_pid_file = "/tmp/hadc/payments/aux.pid"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sc := cfg.SupervisorConfig()
	if sc.HealthCheck == nil {
		t.Fatalf("expected a health check detector to be wired")
	}
	if sc.HealthCheck.Describe() != "pidfile[payments]:/tmp/hadc/payments/aux.pid" {
		t.Fatalf("unexpected detector: %s", sc.HealthCheck.Describe())
	}
}

func TestSupervisorConfigHealthCheckCommandWinsOverPIDFile(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
max_procs = 1
health_check_command = "true"
health_check_pid_file = "/tmp/hadc/payments/aux.pid"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sc := cfg.SupervisorConfig()
	if sc.HealthCheck.Describe() != "cmd[payments]:true" {
		t.Fatalf("expected command detector to win, got %s", sc.HealthCheck.Describe())
	}
}

func TestProgramArgs(t *testing.T) {
	path := writeTOML(t, `
name = "payments"
pid_dir = "/tmp/hadc/payments"
program = "/usr/local/bin/payments-worker"
ipc_cl_options = ["--mode", "main"]
max_procs = 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cmd, args := cfg.ProgramArgs()
	if cmd != "/usr/local/bin/payments-worker" || len(args) != 2 || args[0] != "--mode" {
		t.Fatalf("unexpected program args: %s %v", cmd, args)
	}
}

func TestMergeEnvOverrideWins(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, []string{"B=3", "C=4"})
	want := map[string]string{"A": "1", "B": "3", "C": "4"}
	if len(got) != 3 {
		t.Fatalf("unexpected merged env: %v", got)
	}
	seen := make(map[string]string, len(got))
	for _, kv := range got {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				seen[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range want {
		if seen[k] != v {
			t.Fatalf("key %s: got %q want %q", k, seen[k], v)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("# comment\nFOO=bar\nBAZ = qux\n"), 0o640); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	kvs, err := LoadEnvFile(path)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if len(kvs) != 2 {
		t.Fatalf("expected 2 entries, got %v", kvs)
	}
}
