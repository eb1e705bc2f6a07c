// Package alerting forwards run failures to an error tracker.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/report"
)

// Reporter receives failures from the digest pipeline.
type Reporter interface {
	// ReportExecutionErrors reports each failed extractor of a run.
	ReportExecutionErrors(ctx context.Context, rep *report.Report)
	// ReportFailure reports a failed pipeline stage.
	ReportFailure(ctx context.Context, stage string, err error)
	// Flush waits for buffered events.
	Flush(timeout time.Duration) bool
}

// NopReporter drops everything.
type NopReporter struct{}

func (NopReporter) ReportExecutionErrors(context.Context, *report.Report) {}
func (NopReporter) ReportFailure(context.Context, string, error)          {}
func (NopReporter) Flush(time.Duration) bool                              { return true }

// SentryOptions configures the Sentry client.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// SentryReporter sends one event per failure, tagged for grouping.
type SentryReporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// NewSentryReporter creates a reporter with its own client and hub.
func NewSentryReporter(opts SentryOptions, logger *zap.Logger) (*SentryReporter, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("sentry dsn is required")
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		SampleRate:  opts.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	return NewSentryReporterWithClient(client, logger), nil
}

// NewSentryReporterWithClient wraps an existing client.
func NewSentryReporterWithClient(client *sentry.Client, logger *zap.Logger) *SentryReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SentryReporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}
}

// ReportExecutionErrors captures every extractor failure in rep.
func (s *SentryReporter) ReportExecutionErrors(ctx context.Context, rep *report.Report) {
	if rep == nil {
		return
	}
	for i := range rep.Errors {
		execErr := rep.Errors[i]
		s.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("stage", "execute")
			scope.SetTag("extractor_id", execErr.ExtractorID)
			scope.SetTag("error_code", execErr.Code)
			scope.SetTag("execution_id", rep.ExecutionID)
			scope.SetContext("batch", sentry.Context{
				"record_count": execErr.Context.RecordCount,
				"timestamp":    execErr.Context.Timestamp,
			})
			scope.SetFingerprint([]string{"extractor", execErr.ExtractorID, execErr.Code})
			if id := s.hub.CaptureException(&execErr); id != nil {
				s.logger.Debug("Reported extractor failure",
					zap.String("extractor_id", execErr.ExtractorID),
					zap.String("event_id", string(*id)))
			}
		})
	}
}

// ReportFailure captures a failed pipeline stage.
func (s *SentryReporter) ReportFailure(ctx context.Context, stage string, err error) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("stage", stage)
		scope.SetLevel(sentry.LevelError)
		s.hub.CaptureException(err)
	})
}

// Flush waits up to timeout for queued events to be sent.
func (s *SentryReporter) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
