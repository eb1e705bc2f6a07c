// Package contacts lists the people the user talked to or about.
package contacts

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/internal/section"
)

// ID is the registry id of the extractor.
const ID = "contacts"

var (
	introRe    = regexp.MustCompile(`\b(?i:this is|meet|my name is|i'm|i am|talked to|spoke with|met with|call|email|text)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
	vocativeRe = regexp.MustCompile(`^(?i:hi|hey|hello|thanks|thank you),?\s+([A-Z][a-z]+)\b`)
	unknownRe  = regexp.MustCompile(`(?i)^(unknown|speaker\s*\d+|you|user)$`)

	notNames = map[string]bool{
		"Monday": true, "Tuesday": true, "Wednesday": true, "Thursday": true, "Friday": true,
		"Saturday": true, "Sunday": true, "Today": true, "Tomorrow": true, "Everyone": true,
		"Sorry": true, "Sure": true, "Going": true, "Not": true, "Just": true, "Back": true,
	}
)

// Contact is a person with how often they appeared.
type Contact struct {
	Name      string
	Spoke     int
	Mentioned int
	FirstSeen time.Time
	Records   map[string]bool
}

// Extractor detects people.
type Extractor struct {
	extractor.Base
}

// New creates the extractor.
func New() *Extractor {
	return &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          ID,
			Name:        "People",
			Description: "People you spoke with or mentioned",
		}, extractor.Config{
			Enabled:  true,
			Priority: 70,
			Settings: extractor.Settings{
				"minMentions": 1,
			},
		}),
	}
}

// ValidateConfig checks minMentions and excludeSpeakers.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	if cfg.Settings.Has("minMentions") && (!cfg.Settings.IsNumber("minMentions") || cfg.Settings.Int("minMentions") < 1) {
		return fmt.Errorf("minMentions must be at least 1")
	}
	if v, ok := cfg.Settings["excludeSpeakers"]; ok {
		switch v.(type) {
		case []string, []interface{}:
		default:
			return fmt.Errorf("excludeSpeakers must be a list of names")
		}
	}
	return nil
}

// Extract collects speakers and names mentioned in utterances.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (*extractor.Result, error) {
	start := time.Now()
	caser := cases.Title(language.English)

	exclude := make(map[string]bool)
	for _, name := range cfg.Settings.StringSlice("excludeSpeakers") {
		exclude[strings.ToLower(name)] = true
	}
	if self := env.Value("user_name"); self != "" {
		exclude[strings.ToLower(self)] = true
	}

	people := make(map[string]*Contact)
	touch := func(name string, u section.Utterance) *Contact {
		key := strings.ToLower(name)
		c, ok := people[key]
		if !ok {
			c = &Contact{Name: caser.String(name), FirstSeen: u.At, Records: map[string]bool{}}
			people[key] = c
		}
		if !u.At.IsZero() && (c.FirstSeen.IsZero() || u.At.Before(c.FirstSeen)) {
			c.FirstSeen = u.At
		}
		c.Records[u.RecordID] = true
		return c
	}
	valid := func(name string) bool {
		name = strings.TrimSpace(name)
		return name != "" && !unknownRe.MatchString(name) && !exclude[strings.ToLower(name)] && !notNames[name]
	}

	for _, u := range section.Utterances(records) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !u.Self && valid(u.Speaker) {
			touch(u.Speaker, u).Spoke++
		}
		for _, name := range mentions(u.Text) {
			if valid(name) {
				touch(name, u).Mentioned++
			}
		}
	}

	minMentions := cfg.Settings.IntWithDefault("minMentions", 1)
	list := make([]*Contact, 0, len(people))
	for _, c := range people {
		if c.Spoke+c.Mentioned >= minMentions {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		ti, tj := list[i].Spoke+list[i].Mentioned, list[j].Spoke+list[j].Mentioned
		if ti != tj {
			return ti > tj
		}
		return list[i].Name < list[j].Name
	})

	items := make([]section.Item, 0, len(list))
	names := make([]string, 0, len(list))
	for _, c := range list {
		items = append(items, section.Item{Text: c.Name, Detail: describe(c, env.Loc())})
		names = append(names, c.Name)
	}
	htmlOut, textOut := section.List(items, "No people detected today.")

	return &extractor.Result{
		HTML: htmlOut,
		Text: textOut,
		Metadata: extractor.Metadata{
			RecordCount:    len(records),
			ItemCount:      len(list),
			ProcessingTime: time.Since(start),
			Custom:         map[string]interface{}{"names": names},
		},
	}, nil
}

// mentions returns names introduced or addressed in text.
func mentions(text string) []string {
	out := make([]string, 0)
	for _, m := range introRe.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	if m := vocativeRe.FindStringSubmatch(text); m != nil {
		out = append(out, m[1])
	}
	return out
}

func describe(c *Contact, loc *time.Location) string {
	parts := make([]string, 0, 3)
	if c.Spoke > 0 {
		parts = append(parts, fmt.Sprintf("spoke %d×", c.Spoke))
	}
	if c.Mentioned > 0 {
		parts = append(parts, fmt.Sprintf("mentioned %d×", c.Mentioned))
	}
	if clock := section.Clock(c.FirstSeen, loc); clock != "" {
		parts = append(parts, "first at "+clock)
	}
	return strings.Join(parts, ", ")
}
