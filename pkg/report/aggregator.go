package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wehubfusion/Digest/pkg/extractor"
)

// Aggregator collects extractor outcomes as they settle. It is safe for
// concurrent use.
type Aggregator struct {
	mu           sync.Mutex
	executionID  string
	startedAt    time.Time
	firstAdmit   time.Time
	lastSettle   time.Time
	results      []UnitResult
	errors       []ExecutionError
	now          func() time.Time
	finished     bool
	finishedRept *Report
}

// NewAggregator creates an aggregator for one execution.
func NewAggregator() *Aggregator {
	return &Aggregator{
		executionID: uuid.NewString(),
		startedAt:   time.Now(),
		results:     make([]UnitResult, 0),
		errors:      make([]ExecutionError, 0),
		now:         time.Now,
	}
}

// ExecutionID returns the id assigned to this execution.
func (a *Aggregator) ExecutionID() string {
	return a.executionID
}

// MarkAdmitted records that an extractor was admitted to run. The first
// admission starts the wall-clock total.
func (a *Aggregator) MarkAdmitted() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.firstAdmit.IsZero() {
		a.firstAdmit = a.now()
	}
}

// AddResult records a successful extractor, in completion order.
func (a *Aggregator) AddResult(extractorID string, result *extractor.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.results = append(a.results, UnitResult{ExtractorID: extractorID, Result: result})
	a.lastSettle = a.now()
}

// AddError records a failed extractor.
func (a *Aggregator) AddError(execErr ExecutionError) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.errors = append(a.errors, execErr)
	a.lastSettle = a.now()
}

// Finish freezes the aggregator and builds the report. total is the number
// of registered extractors, disabled the number excluded from the run.
// Outcomes arriving after Finish are ignored.
func (a *Aggregator) Finish(total, disabled int) *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return a.finishedRept
	}
	a.finished = true

	var elapsed time.Duration
	if !a.firstAdmit.IsZero() && !a.lastSettle.IsZero() {
		elapsed = a.lastSettle.Sub(a.firstAdmit)
	}

	a.finishedRept = &Report{
		ExecutionID: a.executionID,
		StartedAt:   a.startedAt,
		Results:     a.results,
		Errors:      a.errors,
		Summary: Summary{
			TotalTime:       elapsed,
			TotalExtractors: total,
			SuccessCount:    len(a.results),
			ErrorCount:      len(a.errors),
			DisabledCount:   disabled,
		},
	}
	return a.finishedRept
}
