// Package all wires the built-in extractors by name.
package all

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/extractor"
	"github.com/wehubfusion/Digest/pkg/extractors/actionitems"
	"github.com/wehubfusion/Digest/pkg/extractors/contacts"
	"github.com/wehubfusion/Digest/pkg/extractors/decisions"
	"github.com/wehubfusion/Digest/pkg/extractors/script"
	"github.com/wehubfusion/Digest/pkg/extractors/summary"
	"github.com/wehubfusion/Digest/pkg/extractors/topics"
	"github.com/wehubfusion/Digest/pkg/llm"
)

// Deps carries what some extractors need to be constructed.
type Deps struct {
	LLM    llm.Config
	Logger *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

var builders = map[string]func(Deps) extractor.Extractor{
	decisions.ID:   func(Deps) extractor.Extractor { return decisions.New() },
	actionitems.ID: func(Deps) extractor.Extractor { return actionitems.New() },
	topics.ID:      func(Deps) extractor.Extractor { return topics.New() },
	contacts.ID:    func(Deps) extractor.Extractor { return contacts.New() },
	summary.ID: func(d Deps) extractor.Extractor {
		return summary.New(d.LLM, summary.WithLogger(d.logger()))
	},
}

// Names returns the built-in extractor ids, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs a built-in extractor by id.
func Build(id string, deps Deps) (extractor.Extractor, error) {
	b, ok := builders[id]
	if !ok {
		return nil, fmt.Errorf("unknown extractor %q", id)
	}
	return b(deps), nil
}

// Builtins constructs every built-in extractor.
func Builtins(deps Deps) []extractor.Extractor {
	out := make([]extractor.Extractor, 0, len(builders))
	for _, name := range Names() {
		out = append(out, builders[name](deps))
	}
	return out
}

// Script constructs a script extractor.
func Script(id, name, source string, deps Deps) extractor.Extractor {
	return script.New(id, name, script.WithSource(source), script.WithLogger(deps.logger()))
}
