// Package config loads the TOML descriptor for one supervised population:
// the program to run, its pid/lock/stop-file locations, population sizes,
// timeouts, and the ambient sub-configs (log, store, history, server).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vrosnet/hadc/internal/detector"
	"github.com/vrosnet/hadc/internal/logger"
	"github.com/vrosnet/hadc/internal/metrics"
	"github.com/vrosnet/hadc/internal/supervisor"
	"github.com/vrosnet/hadc/internal/worker"
)

// FileConfig is the top-level TOML structure for one hadcd population.
type FileConfig struct {
	Name            string   `toml:"name" mapstructure:"name"`
	PIDDir          string   `toml:"pid_dir" mapstructure:"pid_dir"`
	Program         string   `toml:"program" mapstructure:"program"`
	IPCClOptions    []string `toml:"ipc_cl_options" mapstructure:"ipc_cl_options"`
	MaxProcs        int      `toml:"max_procs" mapstructure:"max_procs"`
	StandbyMaxProcs int      `toml:"standby_max_procs" mapstructure:"standby_max_procs"`
	LockPath        string   `toml:"lock_path" mapstructure:"lock_path"`
	StandbyLockPath string   `toml:"standby_lock_path" mapstructure:"standby_lock_path"`
	StopFile        string   `toml:"stop_file" mapstructure:"stop_file"`

	Interval       time.Duration `toml:"interval" mapstructure:"interval"`
	Retries        int           `toml:"retries" mapstructure:"retries"`
	KillTimeout    time.Duration `toml:"kill_timeout" mapstructure:"kill_timeout"`
	StandbyTimeout time.Duration `toml:"standby_timeout" mapstructure:"standby_timeout"`
	MainTimeout    time.Duration `toml:"main_timeout" mapstructure:"main_timeout"`

	WorkDir string   `toml:"workdir" mapstructure:"workdir"`
	Uid     int      `toml:"uid" mapstructure:"uid"`
	Gid     int      `toml:"gid" mapstructure:"gid"`
	Umask   int      `toml:"umask" mapstructure:"umask"`
	Env     []string `toml:"env" mapstructure:"env"`
	EnvFile string   `toml:"env_file" mapstructure:"env_file"`

	// HealthCheckCommand, when set, supplements the supervisor's
	// kill(pid,0)-based liveness probe: a slot is only reported alive if
	// the command also exits zero, using internal/detector.CommandDetector.
	// Mutually exclusive with HealthCheckPIDFile; command wins if both are set.
	HealthCheckCommand string `toml:"health_check_command" mapstructure:"health_check_command"`

	// HealthCheckPIDFile, when set (and HealthCheckCommand is not), checks
	// liveness against an auxiliary pid file the payload itself maintains,
	// via internal/detector.PIDFileDetector. Useful when the payload
	// re-execs into a process hadc's own pid tracking never sees directly.
	HealthCheckPIDFile string `toml:"health_check_pid_file" mapstructure:"health_check_pid_file"`

	Log     *LogConfig     `toml:"log" mapstructure:"log"`
	Store   *StoreConfig   `toml:"store" mapstructure:"store"`
	History *HistoryConfig `toml:"history" mapstructure:"history"`
	Server  *ServerConfig  `toml:"server" mapstructure:"server"`

	// ProcessMetrics turns on per-slot CPU/memory/thread Prometheus gauges,
	// collected once per reconciliation pass.
	ProcessMetrics *ProcessMetricsConfig `toml:"process_metrics" mapstructure:"process_metrics"`
}

// ProcessMetricsConfig mirrors internal/metrics.ProcessMetricsConfig for
// TOML unmarshalling.
type ProcessMetricsConfig struct {
	Enabled     bool          `toml:"enabled" mapstructure:"enabled"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	MaxHistory  int           `toml:"max_history" mapstructure:"max_history"`
	HistorySize int           `toml:"history_size" mapstructure:"history_size"`
}

func (p *ProcessMetricsConfig) toMetrics() metrics.ProcessMetricsConfig {
	if p == nil {
		return metrics.ProcessMetricsConfig{}
	}
	return metrics.ProcessMetricsConfig{
		Enabled:     p.Enabled,
		Interval:    p.Interval,
		MaxHistory:  p.MaxHistory,
		HistorySize: p.HistorySize,
	}
}

// LogConfig mirrors internal/logger.Config for TOML unmarshalling.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

func (l *LogConfig) toLogger() logger.Config {
	if l == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        l.Dir,
		StdoutPath: l.Stdout,
		StderrPath: l.Stderr,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// StoreConfig describes the persistence backend for worker event records.
type StoreConfig struct {
	Type string `toml:"type" mapstructure:"type"` // "sqlite", "postgres", "" (disabled)
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

// HistoryConfig lists best-effort event-export sinks.
type HistoryConfig struct {
	Sinks []HistorySink `toml:"sinks" mapstructure:"sinks"`
}

type HistorySink struct {
	Type string `toml:"type" mapstructure:"type"` // "clickhouse", "opensearch"
	DSN  string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig describes the read-only HTTP status/metrics surface.
type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	AuthToken     string     `toml:"auth_token" mapstructure:"auth_token"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

// TLSConfig describes certificate sourcing for the HTTP surface.
type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS configures self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// Config is the validated, immutable result of Load: no per-field
// accessors, matching SPEC_FULL.md §9's "accessor soup" decision.
type Config struct {
	File FileConfig
	Path string
}

// Load reads and validates path, resolving HADC_CONFIG as a fallback when
// path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HADC_CONFIG")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file given (pass --config or set HADC_CONFIG)")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	if err := fc.validate(); err != nil {
		return nil, err
	}

	if fc.EnvFile != "" {
		extra, err := LoadEnvFile(fc.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("config: load env_file %s: %w", fc.EnvFile, err)
		}
		fc.Env = mergeEnv(extra, fc.Env)
	}

	return &Config{File: fc, Path: path}, nil
}

func (fc FileConfig) validate() error {
	if fc.Name == "" {
		return fmt.Errorf("config: name is required")
	}
	if fc.PIDDir == "" {
		return fmt.Errorf("config: pid_dir is required")
	}
	if fc.Program == "" {
		return fmt.Errorf("config: program is required")
	}
	if fc.MaxProcs <= 0 {
		return fmt.Errorf("config: max_procs must be positive")
	}
	if fc.StandbyMaxProcs < 0 {
		return fmt.Errorf("config: standby_max_procs must not be negative")
	}
	return nil
}

// mergeEnv applies override on top of base, override wins on key collision.
func mergeEnv(base, override []string) []string {
	m := make(map[string]string, len(base)+len(override))
	order := make([]string, 0, len(base)+len(override))
	apply := func(kv string) {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			return
		}
		k := kv[:i]
		if _, exists := m[k]; !exists {
			order = append(order, k)
		}
		m[k] = kv[i+1:]
	}
	for _, kv := range base {
		apply(kv)
	}
	for _, kv := range override {
		apply(kv)
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}

func defaultLockPath(pidDir string) string        { return filepath.Join(pidDir, "lock") }
func defaultStandbyLockPath(pidDir string) string { return filepath.Join(pidDir, "lock-standby") }
func defaultStopFile(pidDir string) string        { return filepath.Join(pidDir, "standby-stop-file") }

// WorkerConfig builds the worker.Config this population's spawned
// processes run with.
func (c *Config) WorkerConfig() worker.Config {
	f := c.File
	lockDir := f.LockPath
	if lockDir == "" {
		lockDir = defaultLockPath(f.PIDDir)
	}
	standbyLockDir := f.StandbyLockPath
	if standbyLockDir == "" {
		standbyLockDir = defaultStandbyLockPath(f.PIDDir)
	}
	stopFile := f.StopFile
	if stopFile == "" {
		stopFile = defaultStopFile(f.PIDDir)
	}
	var retries any
	if f.Retries > 0 {
		retries = f.Retries
	}
	return worker.Config{
		Name:            f.Name,
		PIDDir:          f.PIDDir,
		StopFilePath:    stopFile,
		LockDir:         lockDir,
		StandbyLockDir:  standbyLockDir,
		MaxProcs:        f.MaxProcs,
		StandbyMaxProcs: f.StandbyMaxProcs,
		Interval:        f.Interval,
		Retries:         retries,
		WorkDir:         f.WorkDir,
		Uid:             f.Uid,
		Gid:             f.Gid,
		Umask:           f.Umask,
		Env:             f.Env,
		Log:             f.Log.toLogger(),
	}
}

// SupervisorConfig builds the supervisor.Config driving this population's
// control commands.
func (c *Config) SupervisorConfig() supervisor.Config {
	f := c.File
	lockDir := f.LockPath
	if lockDir == "" {
		lockDir = defaultLockPath(f.PIDDir)
	}
	standbyLockDir := f.StandbyLockPath
	if standbyLockDir == "" {
		standbyLockDir = defaultStandbyLockPath(f.PIDDir)
	}
	stopFile := f.StopFile
	if stopFile == "" {
		stopFile = defaultStopFile(f.PIDDir)
	}
	var healthCheck detector.Detector
	switch {
	case f.HealthCheckCommand != "":
		healthCheck = detector.CommandDetector{Command: f.HealthCheckCommand, Label: f.Name}
	case f.HealthCheckPIDFile != "":
		healthCheck = detector.PIDFileDetector{PIDFile: f.HealthCheckPIDFile, Label: f.Name}
	}
	return supervisor.Config{
		Name:            f.Name,
		ConfigPath:      c.Path,
		PIDDir:          f.PIDDir,
		StopFilePath:    stopFile,
		LockDir:         lockDir,
		StandbyLockDir:  standbyLockDir,
		MaxProcs:        f.MaxProcs,
		StandbyMaxProcs: f.StandbyMaxProcs,
		Interval:        f.Interval,
		Retries:         f.Retries,
		KillTimeout:     f.KillTimeout,
		StandbyTimeout:  f.StandbyTimeout,
		MainTimeout:     f.MainTimeout,
		Log:             f.Log.toLogger(),
		HealthCheck:     healthCheck,
		ProcessMetrics:  f.ProcessMetrics.toMetrics(),
	}
}

// ProgramArgs is the command and fixed arguments the worker's ExecPayload
// runs, built from program + ipc_cl_options.
func (c *Config) ProgramArgs() (command string, args []string) {
	return c.File.Program, append([]string(nil), c.File.IPCClOptions...)
}
