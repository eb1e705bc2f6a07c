package runner

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/wehubfusion/Digest/pkg/delivery"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/registry"
	"github.com/wehubfusion/Digest/pkg/report"
)

type fakeFetcher struct {
	records []extractor.Record
	err     error
	dates   []string
}

func (f *fakeFetcher) FetchDay(_ context.Context, date string, _ *time.Location) ([]extractor.Record, error) {
	f.dates = append(f.dates, date)
	return f.records, f.err
}

type fakeArchiver struct {
	err  error
	reps []*report.Report
}

func (a *fakeArchiver) Archive(_ context.Context, rep *report.Report, date string) (string, error) {
	a.reps = append(a.reps, rep)
	if a.err != nil {
		return "", a.err
	}
	return "https://blob.example.com/digests/" + date, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []delivery.DigestMessage
}

func (p *fakePublisher) Publish(_ context.Context, msg delivery.DigestMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	if p.err != nil {
		return "", p.err
	}
	return msg.ID, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeReporter struct {
	mu        sync.Mutex
	stages    []string
	execFails int
}

func (r *fakeReporter) ReportExecutionErrors(_ context.Context, rep *report.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execFails += len(rep.Errors)
}

func (r *fakeReporter) ReportFailure(_ context.Context, stage string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *fakeReporter) Flush(time.Duration) bool { return true }

type unit struct {
	extractor.Base
	err error
}

func newUnit(id, name string, priority int, err error) *unit {
	return &unit{
		Base: extractor.NewBase(extractor.Info{ID: id, Name: name}, extractor.Config{Enabled: true, Priority: priority}),
		err:  err,
	}
}

func (u *unit) Extract(_ context.Context, records []extractor.Record, _ extractor.Env, _ extractor.Config) (*extractor.Result, error) {
	if u.err != nil {
		return nil, u.err
	}
	return &extractor.Result{
		HTML: "<p>" + u.ID() + "</p>",
		Text: u.ID(),
		Metadata: extractor.Metadata{
			RecordCount: len(records),
			ItemCount:   1,
		},
	}, nil
}

func newRegistry(t *testing.T, units ...*unit) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.DefaultOptions().WithLogger(zaptest.NewLogger(t)))
	for _, u := range units {
		require.NoError(t, reg.Register(u, nil))
	}
	return reg
}

func records(n int) []extractor.Record {
	out := make([]extractor.Record, n)
	for i := range out {
		out[i] = extractor.Record{ID: "r" + string(rune('a'+i)), Title: "Recording"}
	}
	return out
}

func lisbon(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Lisbon")
	require.NoError(t, err)
	return loc
}

func TestNewValidation(t *testing.T) {
	reg := newRegistry(t)

	_, err := New(nil, reg, Config{})
	assert.Error(t, err)

	_, err = New(&fakeFetcher{}, nil, Config{})
	assert.Error(t, err)

	_, err = New(&fakeFetcher{}, reg, Config{Hour: 24})
	assert.Error(t, err)

	r, err := New(&fakeFetcher{}, reg, Config{Hour: 21})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, r.cfg.Location)
	assert.Equal(t, time.UTC, r.cfg.ScheduleLocation)
}

func TestRunOnceFullPipeline(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	fetcher := &fakeFetcher{records: records(3)}
	archiver := &fakeArchiver{}
	publisher := &fakePublisher{}
	reporter := &fakeReporter{}
	reg := newRegistry(t,
		newUnit("topics", "Topics", 10, nil),
		newUnit("decisions", "Decisions", 90, nil),
		newUnit("contacts", "People", 50, errors.New("boom")),
	)

	r, err := New(fetcher, reg, Config{
		Location:   lisbon(t),
		Hour:       21,
		Recipients: []string{"me@example.com"},
	},
		WithArchiver(archiver),
		WithPublisher(publisher),
		WithReporter(reporter),
		WithLogger(zaptest.NewLogger(t)),
		WithTracer(tp.Tracer("test")),
	)
	require.NoError(t, err)

	out, err := r.RunOnce(context.Background(), "2026-10-14")
	require.NoError(t, err)

	assert.Equal(t, "2026-10-14", out.Date)
	assert.Equal(t, 3, out.Records)
	assert.Equal(t, []string{"2026-10-14"}, fetcher.dates)
	require.NotNil(t, out.Report)
	assert.Equal(t, 2, out.Report.Summary.SuccessCount)
	assert.Equal(t, 1, out.Report.Summary.ErrorCount)

	require.NotNil(t, out.Email)
	ids := make([]string, 0, len(out.Email.Sections))
	for _, s := range out.Email.Sections {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"decisions", "contacts", "topics"}, ids)
	assert.Equal(t, "People", out.Email.Sections[1].Title)
	assert.Equal(t, []string{"contacts"}, out.Email.FailedSections)
	assert.Equal(t, "Your daily digest: Wednesday, October 14 (3 recordings)", out.Email.Subject)

	assert.Equal(t, "https://blob.example.com/digests/2026-10-14", out.ArchiveURL)
	assert.NoError(t, out.ArchiveErr)

	require.Equal(t, 1, publisher.count())
	msg := publisher.msgs[0]
	assert.Equal(t, out.MessageID, msg.ID)
	assert.True(t, strings.HasPrefix(msg.ID, "digest-2026-10-14-"))
	assert.Equal(t, out.Report.ExecutionID, msg.ExecutionID)
	assert.Equal(t, []string{"me@example.com"}, msg.Recipients)
	assert.Equal(t, out.Email.HTML, msg.HTML)

	assert.Equal(t, 1, reporter.execFails)
	assert.Empty(t, reporter.stages)

	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
	}
	for _, want := range []string{"digest.run", "digest.fetch", "digest.execute", "digest.render", "digest.archive", "digest.publish"} {
		assert.True(t, names[want], "missing span %s", want)
	}
}

func TestRunOnceFetchFailureAborts(t *testing.T) {
	reporter := &fakeReporter{}
	publisher := &fakePublisher{}
	r, err := New(&fakeFetcher{err: errors.New("api down")}, newRegistry(t, newUnit("topics", "Topics", 1, nil)), Config{},
		WithPublisher(publisher), WithReporter(reporter))
	require.NoError(t, err)

	out, err := r.RunOnce(context.Background(), "2026-10-14")
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "fetch")
	assert.Equal(t, []string{"fetch"}, reporter.stages)
	assert.Zero(t, publisher.count())
}

func TestRunOnceExecuteFailureAborts(t *testing.T) {
	reporter := &fakeReporter{}
	reg := registry.New(registry.DefaultOptions().WithContinueOnError(false))
	require.NoError(t, reg.Register(newUnit("topics", "Topics", 1, errors.New("bad")), nil))

	r, err := New(&fakeFetcher{records: records(1)}, reg, Config{}, WithReporter(reporter))
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background(), "2026-10-14")
	require.Error(t, err)
	assert.Equal(t, []string{"execute"}, reporter.stages)
}

func TestRunOnceArchiveFailureIsRecorded(t *testing.T) {
	reporter := &fakeReporter{}
	publisher := &fakePublisher{}
	r, err := New(&fakeFetcher{records: records(1)}, newRegistry(t, newUnit("topics", "Topics", 1, nil)), Config{},
		WithArchiver(&fakeArchiver{err: errors.New("storage unavailable")}),
		WithPublisher(publisher),
		WithReporter(reporter))
	require.NoError(t, err)

	out, err := r.RunOnce(context.Background(), "2026-10-14")
	require.NoError(t, err)
	assert.Error(t, out.ArchiveErr)
	assert.Empty(t, out.ArchiveURL)
	assert.Equal(t, 1, publisher.count())
	assert.Equal(t, []string{"archive"}, reporter.stages)
}

func TestRunOncePublishFailureFailsRun(t *testing.T) {
	reporter := &fakeReporter{}
	r, err := New(&fakeFetcher{records: records(1)}, newRegistry(t, newUnit("topics", "Topics", 1, nil)), Config{},
		WithPublisher(&fakePublisher{err: errors.New("no responders")}),
		WithReporter(reporter))
	require.NoError(t, err)

	out, err := r.RunOnce(context.Background(), "2026-10-14")
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Error(t, out.PublishErr)
	assert.NotNil(t, out.Email)
	assert.Equal(t, []string{"publish"}, reporter.stages)
}

func TestRunOnceDryRun(t *testing.T) {
	archiver := &fakeArchiver{}
	publisher := &fakePublisher{}
	r, err := New(&fakeFetcher{}, newRegistry(t, newUnit("topics", "Topics", 1, nil)), Config{DryRun: true},
		WithArchiver(archiver), WithPublisher(publisher))
	require.NoError(t, err)

	out, err := r.RunOnce(context.Background(), "2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, 0, out.Records)
	assert.NotEmpty(t, out.Email.HTML)
	assert.Empty(t, archiver.reps)
	assert.Zero(t, publisher.count())
}

func TestRunOnceDefaultsToToday(t *testing.T) {
	loc := lisbon(t)
	fetcher := &fakeFetcher{}
	clock := func() time.Time { return time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC) }
	r, err := New(fetcher, newRegistry(t), Config{Location: loc, DryRun: true}, WithClock(clock))
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background(), "")
	require.NoError(t, err)
	// 23:30 UTC is already the next day in Lisbon summer time.
	assert.Equal(t, []string{"2026-10-15"}, fetcher.dates)
}

func TestRunOnceInvalidDate(t *testing.T) {
	r, err := New(&fakeFetcher{}, newRegistry(t), Config{})
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background(), "14/10/2026")
	assert.Error(t, err)
}

func TestNextRun(t *testing.T) {
	loc := lisbon(t)
	r, err := New(&fakeFetcher{}, newRegistry(t), Config{Location: loc, Hour: 21, Minute: 30})
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before today's run", time.Date(2026, 10, 14, 9, 0, 0, 0, loc), time.Date(2026, 10, 14, 21, 30, 0, 0, loc)},
		{"exactly at run time", time.Date(2026, 10, 14, 21, 30, 0, 0, loc), time.Date(2026, 10, 15, 21, 30, 0, 0, loc)},
		{"after today's run", time.Date(2026, 10, 14, 22, 0, 0, 0, loc), time.Date(2026, 10, 15, 21, 30, 0, 0, loc)},
		{"across month end", time.Date(2026, 10, 31, 23, 0, 0, 0, loc), time.Date(2026, 11, 1, 21, 30, 0, 0, loc)},
		{"utc input", time.Date(2026, 10, 14, 19, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 21, 30, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.NextRun(tt.now)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, err := New(&fakeFetcher{}, newRegistry(t), Config{Hour: 3}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFiresAtScheduledTime(t *testing.T) {
	publisher := &fakePublisher{}
	fetcher := &fakeFetcher{records: records(1)}

	// The clock is shifted so the next 21:00 is a few milliseconds away.
	target := time.Date(2026, 10, 14, 21, 0, 0, 0, time.UTC)
	offset := target.Sub(time.Now()) - 50*time.Millisecond
	clock := func() time.Time { return time.Now().Add(offset) }

	r, err := New(fetcher, newRegistry(t, newUnit("topics", "Topics", 1, nil)), Config{Hour: 21},
		WithPublisher(publisher), WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return publisher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, "2026-10-14", publisher.msgs[0].Date)
}
