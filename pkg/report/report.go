// Package report holds the execution report produced by one registry run and
// the aggregator that assembles it while extractors complete.
package report

import (
	"encoding/json"
	"time"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

// UnitResult is the successful output of one extractor.
type UnitResult struct {
	ExtractorID string            `json:"extractorId"`
	Result      *extractor.Result `json:"result"`
}

// ErrorContext describes the batch an extractor failed on.
type ErrorContext struct {
	RecordCount int       `json:"recordCount"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionError is a failure of one extractor: it returned an error,
// panicked or timed out.
type ExecutionError struct {
	ExtractorID string       `json:"extractorId"`
	Message     string       `json:"message"`
	Code        string       `json:"code"`
	Cause       error        `json:"-"`
	Context     ErrorContext `json:"context"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return e.Message
}

// Unwrap returns the original cause.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Summary counts the outcome of a run. For a run that was not aborted,
// SuccessCount + ErrorCount + DisabledCount == TotalExtractors.
type Summary struct {
	TotalTime       time.Duration `json:"-"`
	TotalExtractors int           `json:"totalExtractors"`
	SuccessCount    int           `json:"successCount"`
	ErrorCount      int           `json:"errorCount"`
	DisabledCount   int           `json:"disabledCount"`
}

// MarshalJSON encodes TotalTime as whole milliseconds.
func (s Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	return json.Marshal(struct {
		alias
		TotalTimeMs int64 `json:"totalTimeMs"`
	}{
		alias:       alias(s),
		TotalTimeMs: s.TotalTime.Milliseconds(),
	})
}

// UnmarshalJSON decodes the millisecond TotalTime written by MarshalJSON.
func (s *Summary) UnmarshalJSON(data []byte) error {
	type alias Summary
	aux := struct {
		*alias
		TotalTimeMs int64 `json:"totalTimeMs"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.TotalTime = time.Duration(aux.TotalTimeMs) * time.Millisecond
	return nil
}

// Report is the aggregate outcome of one execution.
type Report struct {
	ExecutionID string           `json:"executionId"`
	StartedAt   time.Time        `json:"startedAt"`
	Results     []UnitResult     `json:"results"`
	Errors      []ExecutionError `json:"errors"`
	Summary     Summary          `json:"summary"`
}

// Result returns the result of an extractor, if it succeeded.
func (r *Report) Result(extractorID string) (*extractor.Result, bool) {
	for _, res := range r.Results {
		if res.ExtractorID == extractorID {
			return res.Result, true
		}
	}
	return nil, false
}

// Error returns the failure of an extractor, if it failed.
func (r *Report) Error(extractorID string) (*ExecutionError, bool) {
	for i := range r.Errors {
		if r.Errors[i].ExtractorID == extractorID {
			return &r.Errors[i], true
		}
	}
	return nil, false
}

// HasErrors reports whether any extractor failed.
func (r *Report) HasErrors() bool {
	return len(r.Errors) > 0
}

// Balanced reports whether every registered extractor is accounted for.
func (r *Report) Balanced() bool {
	s := r.Summary
	return s.SuccessCount+s.ErrorCount+s.DisabledCount == s.TotalExtractors
}

// JSON encodes the report.
func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}
