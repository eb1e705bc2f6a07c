package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/internal/config"
	"github.com/wehubfusion/Digest/internal/logging"
	"github.com/wehubfusion/Digest/internal/nats"
	"github.com/wehubfusion/Digest/internal/tracing"
	"github.com/wehubfusion/Digest/pkg/alerting"
	"github.com/wehubfusion/Digest/pkg/concurrency"
	"github.com/wehubfusion/Digest/pkg/delivery"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/all"
	"github.com/wehubfusion/Digest/pkg/extractors/script"
	"github.com/wehubfusion/Digest/pkg/extractors/summary"
	"github.com/wehubfusion/Digest/pkg/lifelog"
	"github.com/wehubfusion/Digest/pkg/llm"
	"github.com/wehubfusion/Digest/pkg/registry"
	"github.com/wehubfusion/Digest/pkg/runner"
	"github.com/wehubfusion/Digest/pkg/storage"
)

// app holds the wired service and everything that must be released on exit.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	runner   *runner.Runner
	reporter alerting.Reporter

	nc             *natsgo.Conn
	undoMaxprocs   func()
	shutdownTraces tracing.ShutdownFunc
}

func setup(ctx context.Context, path string, dryRun bool) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		undoMaxprocs: concurrency.InitializeForContainers(logger),
		reporter:     alerting.NopReporter{},
	}
	if err := a.wire(ctx, dryRun); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, dryRun bool) error {
	cfg, logger := a.cfg, a.logger

	tcfg := tracing.DefaultConfig(cfg.Tracing.ServiceName)
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.ServiceVersion = version
	tcfg.Environment = cfg.Sentry.Environment
	tcfg.Endpoint = cfg.Tracing.Endpoint
	tcfg.Protocol = cfg.Tracing.Protocol
	tcfg.Insecure = cfg.Tracing.Insecure
	tcfg.SampleRatio = cfg.Tracing.SampleRatio
	shutdown, err := tracing.Setup(ctx, tcfg, logger)
	if err != nil {
		return err
	}
	a.shutdownTraces = shutdown

	if cfg.Sentry.DSN != "" {
		rep, err := alerting.NewSentryReporter(alerting.SentryOptions{
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     "digest@" + version,
			SampleRate:  cfg.Sentry.SampleRate,
		}, logger)
		if err != nil {
			return err
		}
		a.reporter = rep
	}

	fetcher, err := lifelog.NewClient(lifelog.Config{
		APIKey:     cfg.Lifelog.APIKey,
		BaseURL:    cfg.Lifelog.BaseURL,
		PageSize:   cfg.Lifelog.PageSize,
		MaxRetries: cfg.Lifelog.MaxRetries,
		RateLimit:  cfg.Lifelog.RateLimit,
		Timeout:    cfg.Lifelog.Timeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("lifelog client: %w", err)
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	a.registry = reg

	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithReporter(a.reporter),
		runner.WithTracer(otel.Tracer("digest/runner")),
	}

	if !dryRun && cfg.Storage.ConnectionString != "" {
		blob, err := storage.NewAzureBlobClient(cfg.Storage.ConnectionString, cfg.Storage.Container, logger)
		if err != nil {
			return fmt.Errorf("report archive: %w", err)
		}
		opts = append(opts, runner.WithArchiver(storage.NewArchive(blob, logger)))
	}

	if !dryRun && cfg.NATS.URL != "" {
		pub, err := a.connectDelivery(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, runner.WithPublisher(pub))
	}

	run, err := runner.New(fetcher, reg, runner.Config{
		Location:         cfg.Location(),
		ScheduleLocation: cfg.ScheduleLocation(),
		Hour:             cfg.Schedule.Hour,
		Minute:           cfg.Schedule.Minute,
		Recipients:       cfg.Digest.Recipients,
		Env:              baseEnv(cfg),
		DryRun:           dryRun,
	}, opts...)
	if err != nil {
		return err
	}
	a.runner = run
	return nil
}

func (a *app) connectDelivery(ctx context.Context) (*delivery.Publisher, error) {
	ncfg := nats.DefaultConnectionConfig(a.cfg.NATS.URL)
	ncfg.Name = a.cfg.NATS.Name
	ncfg.Token = a.cfg.NATS.Token
	ncfg.MaxReconnects = a.cfg.NATS.MaxReconnects
	ncfg.PublishMaxRetries = a.cfg.NATS.PublishMaxRetries
	ncfg.Stream = a.cfg.NATS.Stream
	ncfg.Subject = a.cfg.NATS.Subject

	nc, err := nats.Connect(ctx, ncfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	pub, err := delivery.NewPublisher(js, delivery.Config{
		Stream:     ncfg.Stream,
		Subject:    ncfg.Subject,
		MaxRetries: ncfg.PublishMaxRetries,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	if err := pub.EnsureStream(); err != nil {
		return nil, err
	}
	return pub, nil
}

// Close releases connections and flushes telemetry.
func (a *app) Close() {
	if a.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		a.registry.Clear(ctx)
		cancel()
	}
	if a.nc != nil {
		if err := nats.Close(a.nc); err != nil {
			a.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		}
	}
	if a.reporter != nil && !a.reporter.Flush(5*time.Second) {
		a.logger.Warn("Timed out flushing error reports")
	}
	_ = tracing.Shutdown(a.shutdownTraces, a.logger)
	if a.undoMaxprocs != nil {
		a.undoMaxprocs()
	}
	_ = a.logger.Sync()
}

// baseEnv is the run-independent part of the extractor environment.
func baseEnv(cfg *config.Config) extractor.Env {
	return extractor.Env{
		Location: cfg.Location(),
		Credentials: map[string]string{
			summary.CredentialKey: cfg.LLM.APIKey,
		},
		Values: map[string]string{
			"user_name": cfg.Digest.UserName,
		},
	}
}

func llmConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
		RateLimit: cfg.LLM.RateLimit,
		Timeout:   cfg.LLM.Timeout,
	}
}

// buildRegistry registers the configured units. With no units configured every
// built-in is registered, except the summary when no LLM key is set.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*registry.Registry, error) {
	global := &cfg.Extractors.Global
	if global.IsZero() {
		global = nil
	}
	reg := registry.New(registry.DefaultOptions().
		WithMaxConcurrency(cfg.Registry.MaxConcurrency).
		WithExtractorTimeout(cfg.Registry.ExtractorTimeout).
		WithContinueOnError(cfg.Registry.ContinueOnError).
		WithGlobalConfig(global).
		WithLogger(logger).
		WithTracer(otel.Tracer("digest/registry")))

	deps := all.Deps{LLM: llmConfig(cfg), Logger: logger}

	if len(cfg.Extractors.Units) == 0 {
		for _, ext := range all.Builtins(deps) {
			if ext.ID() == summary.ID && cfg.LLM.APIKey == "" {
				logger.Warn("Skipping summary extractor: no LLM API key configured")
				continue
			}
			if err := reg.Register(ext, nil); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}

	ids := make([]string, 0, len(cfg.Extractors.Units))
	for id := range cfg.Extractors.Units {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		unit := cfg.Extractors.Units[id]
		var ext extractor.Extractor
		switch typ := cfg.Extractors.TypeFor(id); typ {
		case "script":
			name := unit.Name
			if name == "" {
				name = id
			}
			source, _ := unit.Settings[script.SettingScript].(string)
			ext = all.Script(id, name, source, deps)
		default:
			if typ != id {
				return nil, fmt.Errorf("extractor %s: type %q must match its id for built-ins", id, typ)
			}
			built, err := all.Build(typ, deps)
			if err != nil {
				return nil, err
			}
			ext = built
		}
		if err := reg.Register(ext, unit.Override()); err != nil {
			return nil, fmt.Errorf("register %s: %w", id, err)
		}
	}
	return reg, nil
}

// extractorInfo is one row of the extractors listing.
type extractorInfo struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Enabled     bool               `json:"enabled"`
	Priority    int                `json:"priority"`
	Settings    extractor.Settings `json:"settings"`
}

func listExtractors(reg *registry.Registry) []extractorInfo {
	regs := reg.GetRegisteredExtractors()
	out := make([]extractorInfo, 0, len(regs))
	for _, r := range regs {
		out = append(out, extractorInfo{
			ID:          r.Extractor.ID(),
			Name:        r.Extractor.Name(),
			Description: r.Extractor.Description(),
			Enabled:     r.Config.Enabled,
			Priority:    r.Config.Priority,
			Settings:    r.Config.Settings,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}
