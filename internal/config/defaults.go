package config

import "runtime"

const (
	StorageLocal = "local"
	StorageMinIO = "minio"
)

const (
	defaultConfigPath            = "~/.config/recast/config.toml"
	defaultStateDir              = "~/.local/share/recast"
	defaultWorkDir               = "~/.local/share/recast/work"
	defaultLogDir                = "~/.local/share/recast/logs"
	defaultStorageDir            = "~/.local/share/recast/objects"
	defaultAPIBind               = "127.0.0.1:7611"
	defaultIOWorkers             = 32
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultCapacityRetryInterval = 30
	defaultPollInterval          = 5
	defaultMaxAutoRetries        = 3
	defaultRetryBaseDelay        = 5
	defaultRetryMaxDelay         = 300
	defaultEventBufferSize       = 256
	defaultRedisKeyPrefix        = "recast:quota"
	defaultRedisSlotTTL          = 6 * 3600
	defaultKafkaTopic            = "recast.events"
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultDownloadTimeout       = 3600
	defaultUserAgent             = "recast/dev"
	defaultProviderTimeout       = 600
	defaultProviderLanguage      = "ru"
	defaultPublishTimeout        = 1800
	defaultNtfyTimeout           = 10
	defaultMetricsPath           = "/metrics"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
		},
		API: API{Bind: defaultAPIBind},
		Workflow: Workflow{
			CPUWorkers:            runtime.NumCPU(),
			IOWorkers:             defaultIOWorkers,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
			CapacityRetryInterval: defaultCapacityRetryInterval,
			PollInterval:          defaultPollInterval,
			MaxAutoRetries:        defaultMaxAutoRetries,
			RetryBaseDelay:        defaultRetryBaseDelay,
			RetryMaxDelay:         defaultRetryMaxDelay,
		},
		Storage: Storage{
			Backend:  StorageLocal,
			LocalDir: defaultStorageDir,
		},
		Redis: Redis{
			KeyPrefix: defaultRedisKeyPrefix,
			SlotTTL:   defaultRedisSlotTTL,
		},
		Events: Events{
			BufferSize: defaultEventBufferSize,
			Log:        true,
			Kafka:      Kafka{Topic: defaultKafkaTopic},
		},
		Media: Media{
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
			DownloadTimeout: defaultDownloadTimeout,
			UserAgent:       defaultUserAgent,
		},
		Providers: Providers{
			TimeoutSeconds: defaultProviderTimeout,
			Language:       defaultProviderLanguage,
		},
		Publish:       Publish{TimeoutSeconds: defaultPublishTimeout},
		Notifications: Notifications{RequestTimeout: defaultNtfyTimeout},
		Metrics:       Metrics{Enabled: true, Path: defaultMetricsPath},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
