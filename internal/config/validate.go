package config

import (
	"errors"
	"fmt"
	"strings"

	"recast/internal/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateCollaborators(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.cpu_workers":             c.Workflow.CPUWorkers,
		"workflow.io_workers":              c.Workflow.IOWorkers,
		"workflow.heartbeat_interval":      c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":       c.Workflow.HeartbeatTimeout,
		"workflow.capacity_retry_interval": c.Workflow.CapacityRetryInterval,
		"workflow.poll_interval":           c.Workflow.PollInterval,
		"workflow.retry_base_delay":        c.Workflow.RetryBaseDelay,
		"workflow.retry_max_delay":         c.Workflow.RetryMaxDelay,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.RetryMaxDelay < c.Workflow.RetryBaseDelay {
		return errors.New("workflow.retry_max_delay must be >= workflow.retry_base_delay")
	}
	if c.Workflow.MaxAutoRetries < 0 {
		return errors.New("workflow.max_auto_retries must be >= 0")
	}
	if c.Workflow.StageTimeout < 0 {
		return errors.New("workflow.stage_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if err := validateLimits("quota", c.Quota.Limits); err != nil {
		return err
	}
	for tenant, override := range c.Quota.Tenants {
		if tenant == "" {
			return errors.New("quota.tenants keys must not be empty")
		}
		prefix := "quota.tenants." + tenant
		if override.MaxConcurrentTasks != nil && *override.MaxConcurrentTasks < 0 {
			return fmt.Errorf("%s.max_concurrent_tasks must be >= 0", prefix)
		}
		if override.MonthlyItems != nil && *override.MonthlyItems < 0 {
			return fmt.Errorf("%s.monthly_items must be >= 0", prefix)
		}
		if override.StorageBytes != nil && *override.StorageBytes < 0 {
			return fmt.Errorf("%s.storage_bytes must be >= 0", prefix)
		}
	}
	return nil
}

func validateLimits(prefix string, limits Limits) error {
	if limits.MaxConcurrentTasks < 0 {
		return fmt.Errorf("%s.max_concurrent_tasks must be >= 0", prefix)
	}
	if limits.MonthlyItems < 0 {
		return fmt.Errorf("%s.monthly_items must be >= 0", prefix)
	}
	if limits.StorageBytes < 0 {
		return fmt.Errorf("%s.storage_bytes must be >= 0", prefix)
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.LocalDir) == "" {
			return errors.New("storage.local_dir must be set when storage.backend is local")
		}
	case StorageMinIO:
		m := c.Storage.MinIO
		if m.Endpoint == "" || m.Bucket == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucket must be set when storage.backend is minio")
		}
		if m.AccessKey == "" || m.SecretKey == "" {
			return errors.New("storage.minio credentials must be set (or RECAST_MINIO_SECRET_KEY)")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.Redis.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis.addr must be set when redis.enabled is true")
	}
	if c.Redis.SlotTTL <= 0 {
		return errors.New("redis.slot_ttl must be positive")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.Kafka.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return errors.New("events.kafka.brokers must include at least one broker when events.kafka.enabled is true")
	}
	return nil
}

func (c *Config) validateCollaborators() error {
	lang, err := language.Normalize(c.Providers.Language)
	if err != nil {
		return fmt.Errorf("providers.language: %w", err)
	}
	c.Providers.Language = lang
	return ensurePositiveMap(map[string]int{
		"media.download_timeout":    c.Media.DownloadTimeout,
		"providers.timeout_seconds": c.Providers.TimeoutSeconds,
		"publish.timeout_seconds":   c.Publish.TimeoutSeconds,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
