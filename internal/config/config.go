package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains the daemon HTTP listener settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Workflow contains pool sizing, liveness and retry tuning for the orchestrator.
type Workflow struct {
	CPUWorkers            int `toml:"cpu_workers"`
	IOWorkers             int `toml:"io_workers"`
	HeartbeatInterval     int `toml:"heartbeat_interval"`
	HeartbeatTimeout      int `toml:"heartbeat_timeout"`
	CapacityRetryInterval int `toml:"capacity_retry_interval"`
	PollInterval          int `toml:"poll_interval"`
	MaxAutoRetries        int `toml:"max_auto_retries"`
	RetryBaseDelay        int `toml:"retry_base_delay"`
	RetryMaxDelay         int `toml:"retry_max_delay"`
	StageTimeout          int `toml:"stage_timeout"`
}

// Limits holds quota bounds. Zero means unlimited.
type Limits struct {
	MaxConcurrentTasks int   `toml:"max_concurrent_tasks"`
	MonthlyItems       int   `toml:"monthly_items"`
	StorageBytes       int64 `toml:"storage_bytes"`
}

// TenantLimits overrides individual default bounds for one tenant.
type TenantLimits struct {
	MaxConcurrentTasks *int   `toml:"max_concurrent_tasks"`
	MonthlyItems       *int   `toml:"monthly_items"`
	StorageBytes       *int64 `toml:"storage_bytes"`
}

// Quota contains default limits plus per-tenant overrides.
type Quota struct {
	Limits
	Tenants map[string]TenantLimits `toml:"tenants"`
}

// MinIO contains S3-compatible object store settings.
type MinIO struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Storage selects where stage artefacts are written.
type Storage struct {
	Backend  string `toml:"backend"`
	LocalDir string `toml:"local_dir"`
	MinIO    MinIO  `toml:"minio"`
}

// Redis enables the shared concurrency slot counter for multi-process deployments.
type Redis struct {
	Enabled   bool   `toml:"enabled"`
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	SlotTTL   int    `toml:"slot_ttl"`
}

// Kafka mirrors lifecycle events to a topic.
type Kafka struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// Events configures lifecycle event sinks.
type Events struct {
	BufferSize int   `toml:"buffer_size"`
	Log        bool  `toml:"log"`
	Kafka      Kafka `toml:"kafka"`
}

// Media contains acquisition and trimming settings.
type Media struct {
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
	DownloadTimeout int    `toml:"download_timeout"`
	UserAgent       string `toml:"user_agent"`
}

// Providers contains the AI provider gateway settings.
type Providers struct {
	BaseURL        string `toml:"base_url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Language       string `toml:"language"`
}

// Publish contains the per-platform upload relay settings.
type Publish struct {
	RelayURL       string `toml:"relay_url"`
	RelayToken     string `toml:"relay_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications configures ntfy delivery of pipeline milestones.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for recast.
//
// Configuration sections by subsystem:
//   - Paths: state database, scratch work area and logs
//   - API: daemon HTTP bind address and bearer token
//   - Workflow: worker pools, heartbeats, retry and capacity wait timing
//   - Quota: default tenant limits plus [quota.tenants.<id>] overrides
//   - Storage: local filesystem or MinIO artefact storage
//   - Redis: optional shared concurrency slots
//   - Events: lifecycle event sinks (log, Kafka)
//   - Media: downloader and ffmpeg settings
//   - Providers: transcription/topics/subtitles gateway
//   - Publish: upload relay for destination platforms
//   - Notifications: ntfy topic for pipeline milestones
//   - Metrics: Prometheus endpoint
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Workflow      Workflow      `toml:"workflow"`
	Quota         Quota         `toml:"quota"`
	Storage       Storage       `toml:"storage"`
	Redis         Redis         `toml:"redis"`
	Events        Events        `toml:"events"`
	Media         Media         `toml:"media"`
	Providers     Providers     `toml:"providers"`
	Publish       Publish       `toml:"publish"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("recast.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the SQLite state file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "recast.db")
}

// LockPath is the single-instance daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "recastd.lock")
}

// Heartbeat returns the interval between running-stage heartbeats.
func (w Workflow) Heartbeat() time.Duration {
	return seconds(w.HeartbeatInterval)
}

// HeartbeatStale returns the age after which a running stage is considered lost.
func (w Workflow) HeartbeatStale() time.Duration {
	return seconds(w.HeartbeatTimeout)
}

// CapacityRetry returns the delay before re-attempting a quota-blocked continuation.
func (w Workflow) CapacityRetry() time.Duration {
	return seconds(w.CapacityRetryInterval)
}

// Poll returns how often scheduled resumes are claimed.
func (w Workflow) Poll() time.Duration {
	return seconds(w.PollInterval)
}

// NotifyTimeout bounds a single ntfy request.
func (n Notifications) NotifyTimeout() time.Duration {
	return seconds(n.RequestTimeout)
}

// StageDeadline bounds a single stage execution; zero disables the bound.
func (w Workflow) StageDeadline() time.Duration {
	return seconds(w.StageTimeout)
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
