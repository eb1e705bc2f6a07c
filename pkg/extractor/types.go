package extractor

import (
	"context"
	"time"
)

// Extractor is the interface that all extraction units must implement.
// Each unit performs one independent analysis over a batch of records.
type Extractor interface {
	// ID returns the unique, immutable identifier of the unit.
	ID() string
	// Name returns a human-readable name, used as the digest section title.
	Name() string
	// Description returns a short description of what the unit extracts.
	Description() string
	// Version is display-only.
	Version() string

	// DefaultConfig returns the configuration the unit runs with when nothing overrides it.
	DefaultConfig() Config

	// ValidateConfig checks an effective configuration. It must be pure and
	// return nil when the configuration is acceptable.
	ValidateConfig(cfg Config) error

	// Extract analyses the full record batch. It must not mutate records or env
	// and reports failure only through the returned error.
	Extract(ctx context.Context, records []Record, env Env, cfg Config) (*Result, error)
}

// Initializer is implemented by units that need one-time setup before Extract,
// such as constructing a client from a credential in Env.
type Initializer interface {
	Initialize(ctx context.Context, env Env) error
}

// Cleaner is implemented by units holding resources that must be released on
// unregistration. Cleanup is best-effort.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Record is one lifelog entry.
type Record struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Markdown  string        `json:"markdown,omitempty"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	IsStarred bool          `json:"isStarred,omitempty"`
	UpdatedAt time.Time     `json:"updatedAt,omitempty"`
	Contents  []ContentNode `json:"contents,omitempty"`
}

// Duration returns the span covered by the record, or zero when the bounds are unset.
func (r Record) Duration() time.Duration {
	if r.StartTime.IsZero() || r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// ContentNode is a structural node inside a record: a heading, a block or a
// spoken utterance.
type ContentNode struct {
	Type              string        `json:"type"`
	Content           string        `json:"content"`
	StartTime         *time.Time    `json:"startTime,omitempty"`
	EndTime           *time.Time    `json:"endTime,omitempty"`
	StartOffsetMs     int64         `json:"startOffsetMs,omitempty"`
	EndOffsetMs       int64         `json:"endOffsetMs,omitempty"`
	SpeakerName       string        `json:"speakerName,omitempty"`
	SpeakerIdentifier string        `json:"speakerIdentifier,omitempty"`
	Children          []ContentNode `json:"children,omitempty"`
}

// IsUtterance reports whether the node carries spoken content.
func (n ContentNode) IsUtterance() bool {
	return n.Type == "blockquote" || n.SpeakerName != ""
}

// IsSelf reports whether the node was spoken by the device owner.
func (n ContentNode) IsSelf() bool {
	return n.SpeakerIdentifier == "user"
}

// Walk calls fn for every content node of the record in depth-first order.
func (r Record) Walk(fn func(node ContentNode)) {
	var visit func(nodes []ContentNode)
	visit = func(nodes []ContentNode) {
		for _, n := range nodes {
			fn(n)
			visit(n.Children)
		}
	}
	visit(r.Contents)
}

// Env is the read-only execution context handed to every unit. The registry
// never interprets its contents.
type Env struct {
	// Date is the day being digested, formatted YYYY-MM-DD.
	Date string
	// Location is the time zone records are interpreted in.
	Location *time.Location
	// Credentials holds secrets units may need during Initialize.
	Credentials map[string]string
	// Values holds free-form settings shared by all units.
	Values map[string]string
}

// Credential returns a credential by key.
func (e Env) Credential(key string) string {
	return e.Credentials[key]
}

// Value returns a free-form value by key.
func (e Env) Value(key string) string {
	return e.Values[key]
}

// Loc returns the configured location, defaulting to UTC.
func (e Env) Loc() *time.Location {
	if e.Location == nil {
		return time.UTC
	}
	return e.Location
}

// Result is the output of a single Extract call.
type Result struct {
	// HTML is the renderable section content.
	HTML string `json:"html"`
	// Text is the plain-text fallback.
	Text string `json:"text"`
	// Metadata carries timing and counts.
	Metadata Metadata `json:"metadata"`
}

// Metadata describes how a result was produced.
type Metadata struct {
	RecordCount    int                    `json:"recordCount"`
	ItemCount      int                    `json:"itemCount"`
	ProcessingTime time.Duration          `json:"processingTimeNs"`
	Custom         map[string]interface{} `json:"custom,omitempty"`
}

// Empty reports whether the result carries no content.
func (r *Result) Empty() bool {
	return r == nil || (r.HTML == "" && r.Text == "")
}
