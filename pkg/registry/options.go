package registry

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

const (
	// DefaultMaxConcurrency is the default number of extractors in flight.
	DefaultMaxConcurrency = 5
	// DefaultExtractorTimeout bounds a single Extract call.
	DefaultExtractorTimeout = 30 * time.Second

	tracerName = "digest/registry"
)

// Options controls how a Registry schedules its extractors.
type Options struct {
	// MaxConcurrency is the maximum number of extractors running at once.
	MaxConcurrency int
	// ExtractorTimeout bounds each Extract call.
	ExtractorTimeout time.Duration
	// AbortOnError makes the first extractor failure cancel the run. When
	// unset, failures are recorded in the report and the run continues, so a
	// zero Options keeps the continue-on-error default.
	AbortOnError bool
	// GlobalConfig is layered over every extractor's defaults at registration.
	GlobalConfig *extractor.Override

	Logger *zap.Logger
	Tracer trace.Tracer
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:   DefaultMaxConcurrency,
		ExtractorTimeout: DefaultExtractorTimeout,
	}
}

// WithMaxConcurrency sets the concurrency bound
func (o Options) WithMaxConcurrency(n int) Options {
	o.MaxConcurrency = n
	return o
}

// WithExtractorTimeout sets the per-extractor timeout
func (o Options) WithExtractorTimeout(d time.Duration) Options {
	o.ExtractorTimeout = d
	return o
}

// WithContinueOnError sets the failure policy
func (o Options) WithContinueOnError(continueOnError bool) Options {
	o.AbortOnError = !continueOnError
	return o
}

// ContinueOnError reports whether failures are recorded instead of aborting.
func (o Options) ContinueOnError() bool {
	return !o.AbortOnError
}

// WithGlobalConfig sets the registry-wide override
func (o Options) WithGlobalConfig(global *extractor.Override) Options {
	o.GlobalConfig = global
	return o
}

// WithLogger sets the logger
func (o Options) WithLogger(logger *zap.Logger) Options {
	o.Logger = logger
	return o
}

// WithTracer sets the tracer
func (o Options) WithTracer(tracer trace.Tracer) Options {
	o.Tracer = tracer
	return o
}

// normalize fills zero values with defaults.
func (o Options) normalize() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.ExtractorTimeout <= 0 {
		o.ExtractorTimeout = DefaultExtractorTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracerName)
	}
	return o
}
