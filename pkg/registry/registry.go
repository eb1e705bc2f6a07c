// Package registry owns the set of extractors taking part in a digest run.
// It validates and stores their effective configuration, drives their
// one-time initialization and executes them under a concurrency bound with
// per-extractor timeouts and failure isolation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wehubfusion/Digest/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/report"
)

// Registration is a read-only view of one registered extractor.
type Registration struct {
	Extractor    extractor.Extractor
	Config       extractor.Config
	Initialized  bool
	RegisteredAt time.Time
}

type registration struct {
	ext          extractor.Extractor
	config       extractor.Config
	initialized  bool
	registeredAt time.Time
}

func (r *registration) view() Registration {
	return Registration{
		Extractor:    r.ext,
		Config:       extractor.Merge(r.config),
		Initialized:  r.initialized,
		RegisteredAt: r.registeredAt,
	}
}

// Registry is the single authority over registered extractors. It is safe for
// concurrent use; an execution works on a snapshot taken when it starts.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu          sync.RWMutex
	entries     map[string]*registration
	order       []string
	initialized bool

	lastStats concurrency.Metrics
}

// New creates a registry with the given options.
func New(opts Options) *Registry {
	opts = opts.normalize()
	return &Registry{
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "registry")),
		entries: make(map[string]*registration),
	}
}

// Options returns the options the registry was built with.
func (r *Registry) Options() Options {
	return r.opts
}

// Register validates and stores an extractor. The effective configuration is
// the extractor defaults, then the registry GlobalConfig, then override.
func (r *Registry) Register(ext extractor.Extractor, override *extractor.Override) error {
	if ext == nil {
		return fmt.Errorf("%w: extractor is nil", sdkerrors.ErrInvalidExtractor)
	}
	id := ext.ID()
	if id == "" {
		return fmt.Errorf("%w: extractor id is empty", sdkerrors.ErrInvalidExtractor)
	}

	cfg := extractor.Merge(ext.DefaultConfig(), r.opts.GlobalConfig, override)
	if err := ext.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: extractor %s: %s", sdkerrors.ErrInvalidConfig, id, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", sdkerrors.ErrDuplicateExtractor, id)
	}

	r.entries[id] = &registration{
		ext:          ext,
		config:       cfg,
		registeredAt: time.Now(),
	}
	r.order = append(r.order, id)

	r.logger.Info("Registered extractor",
		zap.String("extractor_id", id),
		zap.String("version", ext.Version()),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("priority", cfg.Priority))

	return nil
}

// Unregister removes an extractor after a best-effort cleanup. It returns
// false when the id is not registered.
func (r *Registry) Unregister(ctx context.Context, id string) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		r.order = removeID(r.order, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	r.cleanup(ctx, entry.ext)
	r.logger.Info("Unregistered extractor", zap.String("extractor_id", id))
	return true
}

// Initialize runs every extractor's Initialize concurrently in no particular
// order. The first failure cancels the rest and is returned; the registry is
// marked initialized only when all of them succeed.
func (r *Registry) Initialize(ctx context.Context, env extractor.Env) error {
	entries := r.snapshot()

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		initializer, ok := entry.ext.(extractor.Initializer)
		if !ok {
			r.markInitialized(entry.ext.ID())
			continue
		}

		g.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = sdkerrors.NewError(sdkerrors.CodePanic,
						fmt.Sprintf("initialize extractor %s panicked: %v", entry.ext.ID(), p), nil)
					r.logger.Error("Extractor initialization panicked",
						zap.String("extractor_id", entry.ext.ID()),
						zap.Any("panic", p))
				}
			}()
			if err := initializer.Initialize(gctx, env); err != nil {
				r.logger.Error("Extractor initialization failed",
					zap.String("extractor_id", entry.ext.ID()),
					zap.Error(err))
				return fmt.Errorf("initialize extractor %s: %w", entry.ext.ID(), err)
			}
			r.markInitialized(entry.ext.ID())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	r.logger.Info("Extractors initialized", zap.Int("count", len(entries)))
	return nil
}

// Execute runs the enabled extractors over records and returns the report.
// The registry is initialized first if needed. With AbortOnError set,
// the first extractor failure is returned and no report is produced.
func (r *Registry) Execute(ctx context.Context, records []extractor.Record, env extractor.Env) (*report.Report, error) {
	if !r.IsInitialized() {
		if err := r.Initialize(ctx, env); err != nil {
			return nil, err
		}
	}

	s := &scheduler{
		opts:   r.opts,
		logger: r.logger,
	}
	rep, stats, err := s.run(ctx, r.snapshot(), records, env)

	r.mu.Lock()
	r.lastStats = stats
	r.mu.Unlock()

	return rep, err
}

// UpdateConfig layers partial over the stored configuration. The result is
// validated before it replaces the stored one.
func (r *Registry) UpdateConfig(id string, partial extractor.Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", sdkerrors.ErrExtractorNotFound, id)
	}

	cfg := entry.config.Apply(partial)
	if err := entry.ext.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("%w: extractor %s: %s", sdkerrors.ErrInvalidConfig, id, err.Error())
	}
	entry.config = cfg

	r.logger.Debug("Updated extractor config",
		zap.String("extractor_id", id),
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("priority", cfg.Priority))

	return nil
}

// GetRegisteredExtractors returns every registration in registration order.
func (r *Registry) GetRegisteredExtractors() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].view())
	}
	return out
}

// GetExtractor returns one registration.
func (r *Registry) GetExtractor(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Registration{}, false
	}
	return entry.view(), true
}

// Len returns the number of registered extractors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// IsInitialized reports whether Initialize has completed successfully since
// the last Clear.
func (r *Registry) IsInitialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.initialized
}

// LastRunStats returns the admission metrics of the most recent Execute.
func (r *Registry) LastRunStats() concurrency.Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStats
}

// Clear cleans up every extractor concurrently, best effort, and empties the
// registry.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*registration, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	r.entries = make(map[string]*registration)
	r.order = nil
	r.initialized = false
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, entry := range entries {
		wg.Add(1)
		go func(ext extractor.Extractor) {
			defer wg.Done()
			r.cleanup(ctx, ext)
		}(entry.ext)
	}
	wg.Wait()

	r.logger.Info("Registry cleared", zap.Int("count", len(entries)))
}

// cleanup calls Cleanup if the extractor has one. Errors and panics are
// logged and swallowed.
func (r *Registry) cleanup(ctx context.Context, ext extractor.Extractor) {
	cleaner, ok := ext.(extractor.Cleaner)
	if !ok {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("Extractor cleanup panicked",
				zap.String("extractor_id", ext.ID()),
				zap.Any("panic", p))
		}
	}()

	if err := cleaner.Cleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("Extractor cleanup failed",
			zap.String("extractor_id", ext.ID()),
			zap.Error(err))
	}
}

func (r *Registry) markInitialized(id string) {
	r.mu.Lock()
	if entry, ok := r.entries[id]; ok {
		entry.initialized = true
	}
	r.mu.Unlock()
}

// snapshot copies the registrations in registration order so a run is not
// affected by concurrent mutation.
func (r *Registry) snapshot() []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*registration, 0, len(r.order))
	for _, id := range r.order {
		entry := r.entries[id]
		out = append(out, &registration{
			ext:          entry.ext,
			config:       extractor.Merge(entry.config),
			initialized:  entry.initialized,
			registeredAt: entry.registeredAt,
		})
	}
	return out
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i:i], order[i+1:]...)
		}
	}
	return order
}
