// Package actionitems finds commitments and requests and attributes them to
// an owner.
package actionitems

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/internal/section"
)

// ID is the registry id of the extractor.
const ID = "actionitems"

// Kind classifies an action item.
type Kind string

const (
	KindCommitment Kind = "commitment"
	KindRequest    Kind = "request"
	KindQuestion   Kind = "question"
)

var (
	commitmentRe = regexp.MustCompile(`(?i)\b(i'll|i will|i'm going to|i am going to|i need to|i have to|i should|let me|i'm gonna|remind me to)\b`)
	requestRe    = regexp.MustCompile(`(?i)\b(can you|could you|would you|please|you need to|make sure (to|you)|don't forget to)\b`)
	todoRe       = regexp.MustCompile(`(?i)\b(todo|to-do|action item|follow up|follow-up|deadline|by (monday|tuesday|wednesday|thursday|friday|tomorrow|end of (day|week)))\b`)
	questionRe   = regexp.MustCompile(`\?\s*$`)
)

// Item is one detected action item.
type Item struct {
	Text  string
	Owner string
	Kind  Kind
	At    time.Time
}

// Extractor detects action items.
type Extractor struct {
	extractor.Base
}

// New creates the extractor.
func New() *Extractor {
	return &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          ID,
			Name:        "Action Items",
			Description: "Commitments and requests to follow up on",
		}, extractor.Config{
			Enabled:  true,
			Priority: 90,
			Settings: extractor.Settings{
				"maxItems":         15,
				"includeQuestions": false,
			},
		}),
	}
}

// ValidateConfig checks maxItems and includeQuestions.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	if cfg.Settings.Has("maxItems") {
		if !cfg.Settings.IsNumber("maxItems") || cfg.Settings.Int("maxItems") < 0 {
			return fmt.Errorf("maxItems must be a non-negative number")
		}
	}
	if v, ok := cfg.Settings["includeQuestions"]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("includeQuestions must be a boolean")
		}
	}
	return nil
}

// Extract classifies every utterance.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (*extractor.Result, error) {
	start := time.Now()
	includeQuestions := cfg.Settings.BoolWithDefault("includeQuestions", false)
	self := env.Value("user_name")
	if self == "" {
		self = "You"
	}

	found := make([]Item, 0)
	counts := map[Kind]int{}

	for _, u := range section.Utterances(records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		kind, ok := classify(u.Text)
		if !ok {
			continue
		}
		if kind == KindQuestion && !includeQuestions {
			continue
		}

		found = append(found, Item{
			Text:  u.Text,
			Owner: owner(kind, u, self),
			Kind:  kind,
			At:    u.At,
		})
		counts[kind]++
	}

	total := len(found)
	found = section.Limit(found, cfg.Settings.IntWithDefault("maxItems", 15))

	items := make([]section.Item, 0, len(found))
	for _, it := range found {
		d := it.Owner
		if clock := section.Clock(it.At, env.Loc()); clock != "" {
			d += ", " + clock
		}
		items = append(items, section.Item{Text: it.Text, Detail: d})
	}
	htmlOut, textOut := section.List(items, "No action items today.")

	return &extractor.Result{
		HTML: htmlOut,
		Text: textOut,
		Metadata: extractor.Metadata{
			RecordCount:    len(records),
			ItemCount:      len(found),
			ProcessingTime: time.Since(start),
			Custom: map[string]interface{}{
				"totalFound":  total,
				"commitments": counts[KindCommitment],
				"requests":    counts[KindRequest],
				"questions":   counts[KindQuestion],
			},
		},
	}, nil
}

// classify returns the kind of action item text expresses.
func classify(text string) (Kind, bool) {
	switch {
	case commitmentRe.MatchString(text):
		return KindCommitment, true
	case requestRe.MatchString(text):
		if questionRe.MatchString(text) && !strings.Contains(strings.ToLower(text), "please") {
			return KindQuestion, true
		}
		return KindRequest, true
	case todoRe.MatchString(text):
		return KindCommitment, true
	}
	return "", false
}

// owner attributes a commitment to its speaker and a request to the listener.
func owner(kind Kind, u section.Utterance, self string) string {
	speaker := u.Speaker
	if u.Self {
		speaker = self
	}
	if speaker == "" {
		speaker = "Unknown"
	}

	if kind == KindCommitment {
		return speaker
	}
	if u.Self {
		return "Others"
	}
	return self
}
