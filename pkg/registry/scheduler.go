package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/report"
)

// scheduler runs one execution over a snapshot of registrations.
type scheduler struct {
	opts   Options
	logger *zap.Logger
}

type outcome struct {
	result *extractor.Result
	err    error
}

// run admits the enabled extractors in descending priority order through a
// sliding window of MaxConcurrency slots. A slot is freed as soon as its
// extractor settles.
func (s *scheduler) run(ctx context.Context, entries []*registration, records []extractor.Record, env extractor.Env) (*report.Report, concurrency.Metrics, error) {
	total := len(entries)
	selected := selectEnabled(entries)
	disabled := total - len(selected)

	agg := report.NewAggregator()
	limiter := concurrency.NewLimiter(s.opts.MaxConcurrency)
	logger := s.logger.With(zap.String("execution_id", agg.ExecutionID()))

	logger.Info("Starting extractor execution",
		zap.Int("total", total),
		zap.Int("enabled", len(selected)),
		zap.Int("records", len(records)),
		zap.Int("max_concurrency", limiter.Capacity()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		abortOnce sync.Once
		abortErr  error
	)

	for _, entry := range selected {
		if err := limiter.Acquire(runCtx); err != nil {
			break
		}
		if runCtx.Err() != nil {
			limiter.Release()
			break
		}
		agg.MarkAdmitted()

		wg.Add(1)
		go func(entry *registration) {
			defer wg.Done()
			defer limiter.Release()

			id := entry.ext.ID()
			result, err := s.runUnit(runCtx, entry, records, env)
			if err == nil {
				agg.AddResult(id, result)
				return
			}

			execErr := newExecutionError(id, err, len(records))
			if s.opts.ContinueOnError() {
				agg.AddError(*execErr)
				return
			}
			abortOnce.Do(func() {
				abortErr = execErr
				cancel()
			})
		}(entry)
	}

	wg.Wait()
	stats := limiter.GetMetrics()

	if abortErr != nil {
		logger.Error("Extractor execution aborted", zap.Error(abortErr))
		return nil, stats, abortErr
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("Extractor execution cancelled", zap.Error(err))
		return nil, stats, err
	}

	rep := agg.Finish(total, disabled)
	logger.Info("Extractor execution completed",
		zap.Int("success", rep.Summary.SuccessCount),
		zap.Int("errors", rep.Summary.ErrorCount),
		zap.Int("disabled", rep.Summary.DisabledCount),
		zap.Duration("total_time", rep.Summary.TotalTime),
		zap.Int64("peak_concurrent", stats.PeakConcurrent),
		zap.Duration("average_wait", stats.AverageWait()))

	return rep, stats, nil
}

// runUnit runs a single Extract under the per-extractor timeout. The call's
// context is cancelled on timeout; an extractor that ignores it keeps running
// in the background and its outcome is dropped.
func (s *scheduler) runUnit(ctx context.Context, entry *registration, records []extractor.Record, env extractor.Env) (*extractor.Result, error) {
	id := entry.ext.ID()

	ctx, span := s.opts.Tracer.Start(ctx, "extractor.Extract",
		trace.WithAttributes(
			attribute.String("extractor.id", id),
			attribute.Int("extractor.priority", entry.config.Priority),
			attribute.Int("records.count", len(records)),
		))
	defer span.End()

	unitCtx, cancel := context.WithTimeout(ctx, s.opts.ExtractorTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: sdkerrors.NewError(sdkerrors.CodePanic,
					fmt.Sprintf("extractor %s panicked: %v", id, p), nil)}
			}
		}()
		result, err := entry.ext.Extract(unitCtx, records, env, entry.config)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-unitCtx.Done():
		out.err = unitCtx.Err()
	}

	// Deadline expiry wins over whatever the extractor returned while it was
	// being cancelled, unless the whole run was cancelled.
	if out.err != nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		out.err = sdkerrors.NewError(sdkerrors.CodeTimeout,
			fmt.Sprintf("extractor %s timed out after %dms", id, s.opts.ExtractorTimeout.Milliseconds()),
			sdkerrors.ErrTimeout)
	}
	if out.err == nil && out.result == nil {
		out.err = fmt.Errorf("extractor %s returned no result", id)
	}

	elapsed := time.Since(start)
	if out.err != nil {
		span.RecordError(out.err)
		span.SetStatus(codes.Error, out.err.Error())
		s.logger.Warn("Extractor failed",
			zap.String("extractor_id", id),
			zap.Duration("duration", elapsed),
			zap.Error(out.err))
		return nil, out.err
	}

	if out.result.Metadata.ProcessingTime == 0 {
		out.result.Metadata.ProcessingTime = elapsed
	}
	span.SetAttributes(attribute.Int("extractor.items", out.result.Metadata.ItemCount))
	span.SetStatus(codes.Ok, "")
	s.logger.Debug("Extractor completed",
		zap.String("extractor_id", id),
		zap.Duration("duration", elapsed))

	return out.result, nil
}

// selectEnabled keeps enabled registrations sorted by descending priority.
// Equal priorities keep registration order.
func selectEnabled(entries []*registration) []*registration {
	selected := make([]*registration, 0, len(entries))
	for _, entry := range entries {
		if entry.config.Enabled {
			selected = append(selected, entry)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].config.Priority > selected[j].config.Priority
	})
	return selected
}

func newExecutionError(id string, err error, recordCount int) *report.ExecutionError {
	message := err.Error()
	if sdkErr, ok := err.(*sdkerrors.Error); ok && sdkErr.Message != "" {
		message = sdkErr.Message
	}

	return &report.ExecutionError{
		ExtractorID: id,
		Message:     message,
		Code:        sdkerrors.Categorize(err),
		Cause:       err,
		Context: report.ErrorContext{
			RecordCount: recordCount,
			Timestamp:   time.Now(),
		},
	}
}
