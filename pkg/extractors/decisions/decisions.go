// Package decisions finds statements where a decision was made.
package decisions

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/internal/section"
)

// ID is the registry id of the extractor.
const ID = "decisions"

// Pattern is a weighted decision phrase.
type Pattern struct {
	Name   string
	Regex  string
	Weight float64
}

// DefaultPatterns returns the built-in decision phrases.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "we_decided", Regex: `(?i)\b(we|i)('ve| have)? (decided|agreed|settled on|concluded)\b`, Weight: 0.95},
		{Name: "decision_is", Regex: `(?i)\b(the )?(decision|plan|verdict) is\b`, Weight: 0.9},
		{Name: "going_with", Regex: `(?i)\b(we're|we are|i'm|i am|let's) (going with|going to go with|sticking with)\b`, Weight: 0.85},
		{Name: "final", Regex: `(?i)\b(final answer|that's final|it's settled|done deal)\b`, Weight: 0.85},
		{Name: "lets", Regex: `(?i)\blet's (do|go|use|pick|choose|move forward)\b`, Weight: 0.7},
		{Name: "chose", Regex: `(?i)\b(chose|picked|opted for|went with)\b`, Weight: 0.65},
		{Name: "instead", Regex: `(?i)\binstead of\b`, Weight: 0.4},
	}
}

type compiledPattern struct {
	Pattern
	regex *regexp.Regexp
}

// Extractor detects decisions in speaker content.
type Extractor struct {
	extractor.Base
	patterns []compiledPattern
}

// New creates the extractor with the default patterns.
func New() *Extractor {
	patterns := DefaultPatterns()
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, compiledPattern{Pattern: p, regex: regexp.MustCompile(p.Regex)})
	}

	return &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          ID,
			Name:        "Decisions",
			Description: "Decisions made during the day",
		}, extractor.Config{
			Enabled:  true,
			Priority: 100,
			Settings: extractor.Settings{
				"confidenceThreshold": 0.6,
				"maxItems":            10,
			},
		}),
		patterns: compiled,
	}
}

// ValidateConfig checks confidenceThreshold and maxItems.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	if cfg.Settings.Has("confidenceThreshold") {
		if !cfg.Settings.IsNumber("confidenceThreshold") {
			return fmt.Errorf("confidenceThreshold must be a number")
		}
		if v := cfg.Settings.Float("confidenceThreshold"); v < 0 || v > 1 {
			return fmt.Errorf("confidenceThreshold must be between 0 and 1, got %v", v)
		}
	}
	if cfg.Settings.Has("maxItems") && cfg.Settings.Int("maxItems") < 0 {
		return fmt.Errorf("maxItems must be non-negative")
	}
	return nil
}

// Decision is one detected decision.
type Decision struct {
	Text       string
	Speaker    string
	Record     string
	At         time.Time
	Pattern    string
	Confidence float64
}

// Extract scans every utterance and keeps those whose best pattern weight
// reaches the threshold.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (*extractor.Result, error) {
	start := time.Now()
	threshold := cfg.Settings.FloatWithDefault("confidenceThreshold", 0.6)

	found := make([]Decision, 0)
	seen := make(map[string]bool)

	for _, u := range section.Utterances(records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		best := e.bestMatch(u.Text)
		if best == nil || best.Weight < threshold || seen[u.Text] {
			continue
		}
		seen[u.Text] = true
		found = append(found, Decision{
			Text:       u.Text,
			Speaker:    u.Speaker,
			Record:     u.RecordTitle,
			At:         u.At,
			Pattern:    best.Name,
			Confidence: best.Weight,
		})
	}

	total := len(found)
	found = section.Limit(found, cfg.Settings.IntWithDefault("maxItems", 10))

	items := make([]section.Item, 0, len(found))
	for _, d := range found {
		items = append(items, section.Item{Text: d.Text, Detail: detail(d, env.Loc())})
	}
	htmlOut, textOut := section.List(items, "No decisions recorded today.")

	return &extractor.Result{
		HTML: htmlOut,
		Text: textOut,
		Metadata: extractor.Metadata{
			RecordCount:    len(records),
			ItemCount:      len(found),
			ProcessingTime: time.Since(start),
			Custom: map[string]interface{}{
				"totalFound": total,
				"threshold":  threshold,
			},
		},
	}, nil
}

func (e *Extractor) bestMatch(text string) *compiledPattern {
	var best *compiledPattern
	for i := range e.patterns {
		p := &e.patterns[i]
		if p.regex.MatchString(text) && (best == nil || p.Weight > best.Weight) {
			best = p
		}
	}
	return best
}

func detail(d Decision, loc *time.Location) string {
	parts := d.Record
	if d.Speaker != "" {
		parts = d.Speaker + ", " + parts
	}
	if clock := section.Clock(d.At, loc); clock != "" {
		parts = parts + " at " + clock
	}
	return parts
}
