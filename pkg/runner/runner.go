// Package runner drives the daily digest pipeline: fetch the day's lifelogs,
// execute the registered extractors, render the email, archive the report and
// hand the email off for delivery. It can run once or on a daily schedule.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/alerting"
	"github.com/wehubfusion/Digest/pkg/delivery"
	"github.com/wehubfusion/Digest/pkg/digest"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/registry"
	"github.com/wehubfusion/Digest/pkg/report"
)

// Fetcher loads the records of one day.
type Fetcher interface {
	FetchDay(ctx context.Context, date string, loc *time.Location) ([]extractor.Record, error)
}

// Archiver stores an execution report.
type Archiver interface {
	Archive(ctx context.Context, rep *report.Report, date string) (string, error)
}

// Publisher hands a rendered digest to the delivery service.
type Publisher interface {
	Publish(ctx context.Context, msg delivery.DigestMessage) (string, error)
}

// Config holds the runner settings.
type Config struct {
	// Location is the zone records and dates are interpreted in.
	Location *time.Location
	// ScheduleLocation is the zone Hour and Minute refer to. Defaults to Location.
	ScheduleLocation *time.Location
	Hour             int
	Minute           int
	Recipients       []string
	// Env carries credentials and values handed to every extractor. Date and
	// Location are set per run.
	Env extractor.Env
	// DryRun skips archive and publish.
	DryRun bool
}

// Outcome describes one pipeline run.
type Outcome struct {
	Date       string
	Records    int
	Report     *report.Report
	Email      *digest.Email
	ArchiveURL string
	ArchiveErr error
	MessageID  string
	PublishErr error
	Duration   time.Duration
}

// Runner runs the pipeline.
type Runner struct {
	fetcher   Fetcher
	registry  *registry.Registry
	archiver  Archiver
	publisher Publisher
	reporter  alerting.Reporter
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithArchiver enables report archiving.
func WithArchiver(a Archiver) Option { return func(r *Runner) { r.archiver = a } }

// WithPublisher enables delivery handoff.
func WithPublisher(p Publisher) Option { return func(r *Runner) { r.publisher = p } }

// WithReporter sets where failures are reported.
func WithReporter(rep alerting.Reporter) Option { return func(r *Runner) { r.reporter = rep } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option { return func(r *Runner) { r.tracer = t } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.now = now } }

// New creates a runner.
func New(fetcher Fetcher, reg *registry.Registry, cfg Config, opts ...Option) (*Runner, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if reg == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if cfg.Hour < 0 || cfg.Hour > 23 || cfg.Minute < 0 || cfg.Minute > 59 {
		return nil, fmt.Errorf("invalid schedule %02d:%02d", cfg.Hour, cfg.Minute)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ScheduleLocation == nil {
		cfg.ScheduleLocation = cfg.Location
	}

	r := &Runner{
		fetcher:  fetcher,
		registry: reg,
		reporter: alerting.NopReporter{},
		cfg:      cfg,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("digest/runner"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Today returns the current date in the runner's zone.
func (r *Runner) Today() string {
	return r.now().In(r.cfg.Location).Format("2006-01-02")
}

// RunOnce runs the pipeline for date (YYYY-MM-DD, empty for today). Fetch,
// execute and render failures abort the run. An archive failure is recorded
// in the outcome; a publish failure is recorded and returned.
func (r *Runner) RunOnce(ctx context.Context, date string) (*Outcome, error) {
	if date == "" {
		date = r.Today()
	}
	if _, err := time.ParseInLocation("2006-01-02", date, r.cfg.Location); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "digest.run", trace.WithAttributes(attribute.String("digest.date", date)))
	defer span.End()

	logger := r.logger.With(zap.String("date", date))
	logger.Info("Starting digest run", zap.Bool("dry_run", r.cfg.DryRun))

	out := &Outcome{Date: date}

	records, err := r.fetch(ctx, date)
	if err != nil {
		return nil, r.abort(ctx, span, "fetch", err)
	}
	out.Records = len(records)
	logger.Info("Fetched lifelogs", zap.Int("records", len(records)))

	rep, err := r.execute(ctx, date, records)
	if err != nil {
		return nil, r.abort(ctx, span, "execute", err)
	}
	out.Report = rep
	if rep.HasErrors() {
		r.reporter.ReportExecutionErrors(ctx, rep)
	}
	logger.Info("Extractors finished",
		zap.String("execution_id", rep.ExecutionID),
		zap.Int("succeeded", rep.Summary.SuccessCount),
		zap.Int("failed", rep.Summary.ErrorCount),
		zap.Int("disabled", rep.Summary.DisabledCount),
		zap.Duration("total_time", rep.Summary.TotalTime))

	email, err := r.render(ctx, date, len(records), rep)
	if err != nil {
		return nil, r.abort(ctx, span, "render", err)
	}
	out.Email = email

	if r.cfg.DryRun {
		out.Duration = time.Since(start)
		span.SetStatus(codes.Ok, "dry run")
		logger.Info("Dry run complete", zap.String("subject", email.Subject))
		return out, nil
	}

	if r.archiver != nil {
		out.ArchiveURL, out.ArchiveErr = r.archive(ctx, rep, date)
		if out.ArchiveErr != nil {
			logger.Warn("Failed to archive report", zap.Error(out.ArchiveErr))
			r.reporter.ReportFailure(ctx, "archive", out.ArchiveErr)
		}
	}

	if r.publisher != nil {
		out.MessageID, out.PublishErr = r.publish(ctx, date, rep, email)
		if out.PublishErr != nil {
			out.Duration = time.Since(start)
			return out, r.abort(ctx, span, "publish", out.PublishErr)
		}
	}

	out.Duration = time.Since(start)
	span.SetAttributes(attribute.Int64("digest.duration_ms", out.Duration.Milliseconds()))
	span.SetStatus(codes.Ok, "digest run complete")
	logger.Info("Digest run complete",
		zap.String("message_id", out.MessageID),
		zap.Strings("failed_sections", email.FailedSections),
		zap.Duration("duration", out.Duration))
	return out, nil
}

func (r *Runner) abort(ctx context.Context, span trace.Span, stage string, err error) error {
	err = fmt.Errorf("%s: %w", stage, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.logger.Error("Digest run failed", zap.String("stage", stage), zap.Error(err))
	r.reporter.ReportFailure(ctx, stage, err)
	return err
}

func (r *Runner) fetch(ctx context.Context, date string) ([]extractor.Record, error) {
	ctx, span := r.tracer.Start(ctx, "digest.fetch")
	defer span.End()

	records, err := r.fetcher.FetchDay(ctx, date, r.cfg.Location)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("digest.records", len(records)))
	return records, nil
}

func (r *Runner) execute(ctx context.Context, date string, records []extractor.Record) (*report.Report, error) {
	ctx, span := r.tracer.Start(ctx, "digest.execute")
	defer span.End()

	env := r.cfg.Env
	env.Date = date
	env.Location = r.cfg.Location

	rep, err := r.registry.Execute(ctx, records, env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("digest.execution_id", rep.ExecutionID),
		attribute.Int("digest.errors", rep.Summary.ErrorCount))
	return rep, nil
}

func (r *Runner) render(ctx context.Context, date string, records int, rep *report.Report) (*digest.Email, error) {
	_, span := r.tracer.Start(ctx, "digest.render")
	defer span.End()

	regs := r.registry.GetRegisteredExtractors()
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].Config.Priority > regs[j].Config.Priority
	})
	order := make([]string, 0, len(regs))
	titles := make(map[string]string, len(regs))
	for _, reg := range regs {
		id := reg.Extractor.ID()
		order = append(order, id)
		titles[id] = reg.Extractor.Name()
	}

	email, err := digest.Render(rep, digest.Meta{
		Date:        date,
		Timezone:    r.cfg.Location.String(),
		RecordCount: records,
		Order:       order,
	}, titles)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return email, nil
}

func (r *Runner) archive(ctx context.Context, rep *report.Report, date string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "digest.archive")
	defer span.End()

	url, err := r.archiver.Archive(ctx, rep, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return url, nil
}

func (r *Runner) publish(ctx context.Context, date string, rep *report.Report, email *digest.Email) (string, error) {
	ctx, span := r.tracer.Start(ctx, "digest.publish")
	defer span.End()

	id, err := r.publisher.Publish(ctx, delivery.DigestMessage{
		ID:          "digest-" + date + "-" + rep.ExecutionID,
		ExecutionID: rep.ExecutionID,
		Date:        date,
		Subject:     email.Subject,
		HTML:        email.HTML,
		Text:        email.Text,
		Recipients:  r.cfg.Recipients,
		CreatedAt:   r.now().UTC(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("digest.message_id", id))
	return id, nil
}

// NextRun returns the first scheduled time strictly after now.
func (r *Runner) NextRun(now time.Time) time.Time {
	t := now.In(r.cfg.ScheduleLocation)
	next := time.Date(t.Year(), t.Month(), t.Day(), r.cfg.Hour, r.cfg.Minute, 0, 0, r.cfg.ScheduleLocation)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, r.cfg.Hour, r.cfg.Minute, 0, 0, r.cfg.ScheduleLocation)
	}
	return next
}

// Run executes the pipeline every day at the scheduled time until ctx is
// cancelled. Failed runs are logged and reported; the loop continues.
func (r *Runner) Run(ctx context.Context) error {
	for {
		next := r.NextRun(r.now())
		wait := next.Sub(r.now())
		r.logger.Info("Next digest run scheduled",
			zap.Time("at", next),
			zap.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		}

		date := next.In(r.cfg.Location).Format("2006-01-02")
		if _, err := r.RunOnce(ctx, date); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Scheduled digest run failed", zap.String("date", date), zap.Error(err))
		}
	}
}
