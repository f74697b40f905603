package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeWorkflow()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeQuota()
	c.normalizeEvents()
	c.normalizeCollaborators()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		c.API.Token = envValue("RECAST_API_TOKEN")
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.CPUWorkers <= 0 {
		c.Workflow.CPUWorkers = runtime.NumCPU()
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	var err error
	if c.Storage.LocalDir, err = expandPath(c.Storage.LocalDir); err != nil {
		return fmt.Errorf("storage.local_dir: %w", err)
	}
	m := &c.Storage.MinIO
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.Bucket = strings.TrimSpace(m.Bucket)
	m.AccessKey = strings.TrimSpace(m.AccessKey)
	m.SecretKey = strings.TrimSpace(m.SecretKey)
	if m.SecretKey == "" {
		m.SecretKey = envValue("RECAST_MINIO_SECRET_KEY")
	}
	return nil
}

func (c *Config) normalizeQuota() {
	if len(c.Quota.Tenants) == 0 {
		return
	}
	normalized := make(map[string]TenantLimits, len(c.Quota.Tenants))
	for tenant, limits := range c.Quota.Tenants {
		normalized[strings.TrimSpace(tenant)] = limits
	}
	c.Quota.Tenants = normalized
}

func (c *Config) normalizeEvents() {
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = defaultEventBufferSize
	}
	brokers := c.Events.Kafka.Brokers[:0]
	for _, broker := range c.Events.Kafka.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Events.Kafka.Brokers = brokers
	c.Events.Kafka.Topic = strings.TrimSpace(c.Events.Kafka.Topic)
	if c.Events.Kafka.Topic == "" {
		c.Events.Kafka.Topic = defaultKafkaTopic
	}
}

func (c *Config) normalizeCollaborators() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	if c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = defaultFFmpegBinary
	}
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
	c.Providers.BaseURL = strings.TrimRight(strings.TrimSpace(c.Providers.BaseURL), "/")
	c.Providers.Token = strings.TrimSpace(c.Providers.Token)
	if c.Providers.Token == "" {
		c.Providers.Token = envValue("RECAST_PROVIDER_TOKEN")
	}
	c.Publish.RelayURL = strings.TrimRight(strings.TrimSpace(c.Publish.RelayURL), "/")
	c.Publish.RelayToken = strings.TrimSpace(c.Publish.RelayToken)
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
	c.Metrics.Path = strings.TrimSpace(c.Metrics.Path)
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func envValue(key string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
