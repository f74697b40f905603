package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recast/internal/acquire"
	"recast/internal/config"
	"recast/internal/daemon"
	"recast/internal/events"
	"recast/internal/logging"
	"recast/internal/metrics"
	"recast/internal/notifications"
	"recast/internal/preflight"
	"recast/internal/providers"
	"recast/internal/publishers"
	"recast/internal/quota"
	"recast/internal/stage"
	"recast/internal/storage"
	"recast/internal/store"
	"recast/internal/trimming"
	"recast/internal/workerpool"
	"recast/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	LogFormat   string
	Development bool
}

// Run starts the recast daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(slog.String("session_id", uuid.NewString()))
	logConfigSnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.StateDir, "recastd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open state store", "store_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check paths.state_dir permissions"),
		)
		return err
	}

	objects, err := storage.New(signalCtx, cfg.Storage, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("init storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.New(registry)

	producer := events.NewProducerFromConfig(cfg.Events, logger)
	if producer != nil {
		defer producer.Close()
	}
	bus := events.NewBus(producer, logger)

	var slots quota.SlotLimiter
	if cfg.Redis.Enabled {
		redisSlots, err := quota.NewRedisSlots(signalCtx, cfg.Redis)
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisSlots.Close()
		slots = redisSlots
	}
	gate := quota.NewGate(quota.NewPolicy(cfg.Quota), slots, recorder, logger)

	mgr := workflow.NewManager(cfg, st, logger, workflow.Options{
		Gate:       gate,
		Bus:        bus,
		Metrics:    recorder,
		Dispatcher: workerpool.NewDispatcher(cfg.Workflow, recorder, logger),
	})
	set, err := buildStages(cfg, objects, logger)
	if err != nil {
		_ = st.Close()
		return err
	}
	if err := mgr.ConfigureStages(set); err != nil {
		_ = st.Close()
		return fmt.Errorf("configure stages: %w", err)
	}

	notifier := notifications.NewNotifier(notifications.NewService(cfg), st, logger)
	notifier.Attach(bus)

	d, err := daemon.New(cfg, st, logger, mgr,
		daemon.WithNotifier(notifier),
		daemon.WithMetrics(recorder, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, api bind address and the daemon lock"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("recast daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && opts.LogFormat == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	format := cfg.Logging.Format
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	return logging.New(logging.Options{
		Level:       level,
		Format:      format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "recastd.log")},
		Development: opts.Development,
	})
}

// buildStages wires the concrete handlers. Provider stages are left out when
// no gateway is configured, external destinations when no relay is.
func buildStages(cfg *config.Config, objects storage.Storage, logger *slog.Logger) (workflow.StageSet, error) {
	set := workflow.StageSet{
		Acquirer: acquire.New(cfg, objects, logger),
		Trimmer:  trimming.New(cfg, objects, logger),
	}

	if strings.TrimSpace(cfg.Providers.BaseURL) != "" {
		client, err := providers.New(cfg.Providers)
		if err != nil {
			return workflow.StageSet{}, fmt.Errorf("init providers: %w", err)
		}
		lang := cfg.Providers.Language
		set.Transcriber = providers.NewTranscriber(client, objects, lang, logger)
		set.TopicExtractor = providers.NewTopicExtractor(client, objects, lang, logger)
		set.SubtitleGenerator = providers.NewSubtitleGenerator(client, objects, lang, logger)
	}

	pubs := []stage.Publisher{publishers.NewArchive(objects)}
	if strings.TrimSpace(cfg.Publish.RelayURL) != "" {
		relays, err := publishers.NewRelays(cfg.Publish, objects)
		if err != nil {
			return workflow.StageSet{}, fmt.Errorf("init publishers: %w", err)
		}
		for _, r := range relays {
			pubs = append(pubs, r)
		}
	}
	set.Publishers = stage.NewPublishers(pubs...)
	return set, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	for _, r := range preflight.RunAll(ctx, cfg) {
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("optional", r.Optional),
			logging.String(logging.FieldErrorHint, "run `recast config check` for details"),
		)
	}
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("api_bind", cfg.API.Bind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.API.Token) != ""),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.Bool("redis_enabled", cfg.Redis.Enabled),
		logging.Bool("kafka_enabled", cfg.Events.Kafka.Enabled),
		logging.Bool("providers_configured", strings.TrimSpace(cfg.Providers.BaseURL) != ""),
		logging.Bool("relay_configured", strings.TrimSpace(cfg.Publish.RelayURL) != ""),
		logging.Bool("ntfy_configured", cfg.Notifications.NtfyTopic != ""),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.Int("cpu_workers", cfg.Workflow.CPUWorkers),
		logging.Int("io_workers", cfg.Workflow.IOWorkers),
	)
}
