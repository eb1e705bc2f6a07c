// Package summary produces a free-text summary of the day through the
// text-generation service.
package summary

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	sdkerrors "github.com/wehubfusion/Digest/pkg/errors"
	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/llm"
)

// ID is the registry id of the extractor.
const ID = "summary"

// CredentialKey is the Env credential holding the text-generation API key.
const CredentialKey = "llm_api_key"

const (
	StyleBullets   = "bullets"
	StyleNarrative = "narrative"
)

// ClientFactory builds a Completer from an API key.
type ClientFactory func(apiKey string) (llm.Completer, error)

// Extractor summarises the day's records.
type Extractor struct {
	extractor.Base

	factory ClientFactory
	logger  *zap.Logger

	mu     sync.RWMutex
	client llm.Completer
}

// Option configures the extractor.
type Option func(*Extractor)

// WithClientFactory replaces how the client is built during Initialize.
func WithClientFactory(f ClientFactory) Option {
	return func(e *Extractor) { e.factory = f }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// New creates the extractor. cfg is the base client configuration; its API
// key is taken from Env during Initialize.
func New(cfg llm.Config, opts ...Option) *Extractor {
	e := &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          ID,
			Name:        "Summary",
			Description: "A short written summary of the day",
		}, extractor.Config{
			Enabled:  true,
			Priority: 50,
			Settings: extractor.Settings{
				"maxInputChars": 12000,
				"style":         StyleBullets,
			},
		}),
		logger: zap.NewNop(),
	}
	e.factory = func(apiKey string) (llm.Completer, error) {
		c := cfg
		c.APIKey = apiKey
		client, err := llm.New(c, e.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateConfig checks maxInputChars and style.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	if cfg.Settings.Has("maxInputChars") && (!cfg.Settings.IsNumber("maxInputChars") || cfg.Settings.Int("maxInputChars") < 500) {
		return fmt.Errorf("maxInputChars must be a number of at least 500")
	}
	if cfg.Settings.Has("style") {
		switch cfg.Settings.String("style") {
		case StyleBullets, StyleNarrative:
		default:
			return fmt.Errorf("style must be %q or %q", StyleBullets, StyleNarrative)
		}
	}
	return nil
}

// Initialize builds the client from the API key credential.
func (e *Extractor) Initialize(ctx context.Context, env extractor.Env) error {
	key := env.Credential(CredentialKey)
	if key == "" {
		return fmt.Errorf("%w: missing %s credential", sdkerrors.ErrInvalidConfig, CredentialKey)
	}

	client, err := e.factory(key)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()
	return nil
}

// Cleanup releases the client's idle connections.
func (e *Extractor) Cleanup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	e.client = nil
	return nil
}

// Extract asks the model for a summary and renders its sections.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (*extractor.Result, error) {
	e.mu.RLock()
	client := e.client
	e.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("%w: %s", sdkerrors.ErrNotInitialized, ID)
	}

	start := time.Now()
	if len(records) == 0 {
		return &extractor.Result{
			HTML:     "<p><em>Nothing was recorded today.</em></p>",
			Text:     "Nothing was recorded today.",
			Metadata: extractor.Metadata{ProcessingTime: time.Since(start)},
		}, nil
	}

	transcript, truncated := Transcript(records, env.Loc(), cfg.Settings.IntWithDefault("maxInputChars", 12000))
	style := cfg.Settings.StringWithDefault("style", StyleBullets)

	output, err := client.Complete(ctx, systemPrompt(style), userPrompt(env.Date, transcript))
	if err != nil {
		return nil, fmt.Errorf("summarise: %w", err)
	}

	sections := ParseSections(output)
	htmlOut, textOut := render(sections)

	return &extractor.Result{
		HTML: htmlOut,
		Text: textOut,
		Metadata: extractor.Metadata{
			RecordCount:    len(records),
			ItemCount:      len(sections),
			ProcessingTime: time.Since(start),
			Custom: map[string]interface{}{
				"inputChars": len(transcript),
				"truncated":  truncated,
				"style":      style,
			},
		},
	}, nil
}

// Transcript renders records as compact text, capped at maxChars bytes. The
// cut never splits a multi-byte character.
func Transcript(records []extractor.Record, loc *time.Location, maxChars int) (string, bool) {
	var b strings.Builder

	for _, rec := range records {
		fmt.Fprintf(&b, "## %s", rec.Title)
		if !rec.StartTime.IsZero() {
			fmt.Fprintf(&b, " (%s)", rec.StartTime.In(loc).Format("15:04"))
		}
		b.WriteString("\n")

		wrote := false
		rec.Walk(func(n extractor.ContentNode) {
			if !n.IsUtterance() || n.Content == "" {
				return
			}
			wrote = true
			speaker := n.SpeakerName
			if speaker == "" {
				speaker = "Unknown"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, n.Content)
		})
		if !wrote && rec.Markdown != "" {
			b.WriteString(rec.Markdown)
			b.WriteString("\n")
		}
	}

	out := b.String()
	if maxChars > 0 && len(out) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		return out[:cut], true
	}
	return out, false
}

func systemPrompt(style string) string {
	format := "Use short bullet points under each heading."
	if style == StyleNarrative {
		format = "Write one or two short paragraphs under each heading."
	}
	return "You write a personal daily digest from conversation transcripts. " +
		"Group the content under markdown headings (lines starting with #). " + format
}

func userPrompt(date, transcript string) string {
	if date == "" {
		date = "today"
	}
	return fmt.Sprintf("Summarise my day (%s) from these transcripts:\n\n%s", date, transcript)
}

// Section is one titled block of the model output.
type Section struct {
	Title string
	Lines []string
}

// ParseSections splits model output on lines starting with # or **. Text
// before the first heading goes into an untitled section.
func ParseSections(output string) []Section {
	sections := make([]Section, 0)
	var cur *Section

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "**") {
			title := strings.TrimSpace(strings.Trim(strings.TrimLeft(line, "#"), "*: "))
			sections = append(sections, Section{Title: title})
			cur = &sections[len(sections)-1]
			continue
		}

		if cur == nil {
			sections = append(sections, Section{})
			cur = &sections[len(sections)-1]
		}
		cur.Lines = append(cur.Lines, line)
	}

	return sections
}

func render(sections []Section) (string, string) {
	var h, t strings.Builder

	for _, s := range sections {
		if s.Title != "" {
			fmt.Fprintf(&h, "<h3>%s</h3>", html.EscapeString(s.Title))
			t.WriteString(s.Title + "\n")
		}

		bullets := make([]string, 0, len(s.Lines))
		for _, line := range s.Lines {
			if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
				bullets = append(bullets, strings.TrimSpace(line[2:]))
				continue
			}
			fmt.Fprintf(&h, "<p>%s</p>", html.EscapeString(line))
			t.WriteString(line + "\n")
		}
		if len(bullets) > 0 {
			h.WriteString("<ul>")
			for _, b := range bullets {
				fmt.Fprintf(&h, "<li>%s</li>", html.EscapeString(b))
				t.WriteString("- " + b + "\n")
			}
			h.WriteString("</ul>")
		}
		t.WriteString("\n")
	}

	return h.String(), strings.TrimSpace(t.String())
}
