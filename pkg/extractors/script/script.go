// Package script runs user-supplied JavaScript as a digest extractor.
//
// The script defines a function (extract by default) that receives the
// records, the unit's settings and a small env object, and returns either a
// string or an object of the form
//
//	{ html: "...", text: "...", itemCount: 3, custom: { ... } }
//
// Each call runs in a fresh sandboxed runtime that is interrupted when the
// context is done.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/wehubfusion/Digest/pkg/extractor"
)

const (
	// SettingScript holds the JavaScript source.
	SettingScript = "script"
	// SettingFunction names the entry point.
	SettingFunction = "functionName"

	defaultFunction = "extract"
)

// ErrNoResult is returned when the entry point returns null or undefined.
var ErrNoResult = errors.New("script returned no result")

// htmlPolicy strips scripts, handlers and unknown markup from script HTML
// before it reaches the email.
var htmlPolicy = bluemonday.UGCPolicy()

// Extractor evaluates a script over the records.
type Extractor struct {
	extractor.Base

	logger *zap.Logger

	mu       sync.Mutex
	programs map[string]*goja.Program
}

// Option configures the extractor.
type Option func(*options)

type options struct {
	description string
	priority    int
	source      string
	function    string
	logger      *zap.Logger
}

// WithSource sets the default script source.
func WithSource(src string) Option {
	return func(o *options) { o.source = src }
}

// WithFunction sets the default entry point name.
func WithFunction(name string) Option {
	return func(o *options) { o.function = name }
}

// WithPriority sets the default priority.
func WithPriority(p int) Option {
	return func(o *options) { o.priority = p }
}

// WithDescription sets the description.
func WithDescription(d string) Option {
	return func(o *options) { o.description = d }
}

// WithLogger routes the script's log() calls.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a script extractor with the given id and display name.
func New(id, name string, opts ...Option) *Extractor {
	o := options{
		description: "Custom script section",
		priority:    10,
		function:    defaultFunction,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	settings := extractor.Settings{SettingFunction: o.function}
	if o.source != "" {
		settings[SettingScript] = o.source
	}

	return &Extractor{
		Base: extractor.NewBase(extractor.Info{
			ID:          id,
			Name:        name,
			Description: o.description,
		}, extractor.Config{
			Enabled:  true,
			Priority: o.priority,
			Settings: settings,
		}),
		logger:   o.logger.With(zap.String("extractor", id)),
		programs: make(map[string]*goja.Program),
	}
}

// ValidateConfig requires a script that compiles.
func (e *Extractor) ValidateConfig(cfg extractor.Config) error {
	if err := e.Base.ValidateConfig(cfg); err != nil {
		return err
	}
	src := cfg.Settings.String(SettingScript)
	if src == "" {
		return fmt.Errorf("%s is required", SettingScript)
	}
	if cfg.Settings.Has(SettingFunction) && cfg.Settings.String(SettingFunction) == "" {
		return fmt.Errorf("%s must be a non-empty string", SettingFunction)
	}
	if _, err := e.compile(src); err != nil {
		return err
	}
	return nil
}

func (e *Extractor) compile(src string) (*goja.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.programs[src]; ok {
		return p, nil
	}
	p, err := goja.Compile(e.ID()+".js", src, false)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	e.programs[src] = p
	return p, nil
}

// Extract runs the entry point.
func (e *Extractor) Extract(ctx context.Context, records []extractor.Record, env extractor.Env, cfg extractor.Config) (res *extractor.Result, err error) {
	start := time.Now()

	program, err := e.compile(cfg.Settings.String(SettingScript))
	if err != nil {
		return nil, err
	}

	vm := goja.New()
	if err := sandbox(vm); err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	if err := e.installHelpers(vm); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("script panicked: %v", r)
		}
	}()

	if _, err := vm.RunProgram(program); err != nil {
		return nil, e.scriptError(ctx, err)
	}

	name := cfg.Settings.StringWithDefault(SettingFunction, defaultFunction)
	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("script does not define function %q", name)
	}

	args, err := arguments(vm, records, env, cfg.Settings)
	if err != nil {
		return nil, err
	}

	value, err := fn(goja.Undefined(), args...)
	if err != nil {
		return nil, e.scriptError(ctx, err)
	}

	res, err = toResult(value)
	if err != nil {
		return nil, err
	}
	res.Metadata.RecordCount = len(records)
	res.Metadata.ProcessingTime = time.Since(start)
	return res, nil
}

func (e *Extractor) installHelpers(vm *goja.Runtime) error {
	if err := vm.Set("log", func(call goja.FunctionCall) goja.Value {
		e.logger.Debug("script log", zap.String("message", call.Argument(0).String()))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return vm.Set("escapeHTML", func(s string) string { return html.EscapeString(s) })
}

func (e *Extractor) scriptError(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("script interrupted: %w", ctxErr)
		}
		return fmt.Errorf("script interrupted: %v", interrupted.Value())
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fmt.Errorf("script error: %s", exc.Value().String())
	}
	return fmt.Errorf("script error: %w", err)
}

// arguments converts the records to plain JSON values so scripts see the
// same field names as the lifelog API.
func arguments(vm *goja.Runtime, records []extractor.Record, env extractor.Env, settings extractor.Settings) ([]goja.Value, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	var plain []interface{}
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if plain == nil {
		plain = []interface{}{}
	}

	scriptSettings := settings.Clone()
	delete(scriptSettings, SettingScript)
	delete(scriptSettings, SettingFunction)

	values := make(map[string]interface{}, len(env.Values))
	for k, v := range env.Values {
		values[k] = v
	}
	envObj := map[string]interface{}{
		"date":     env.Date,
		"timezone": env.Loc().String(),
		"values":   values,
	}

	return []goja.Value{
		vm.ToValue(plain),
		vm.ToValue(map[string]interface{}(scriptSettings)),
		vm.ToValue(envObj),
	}, nil
}

func toResult(value goja.Value) (*extractor.Result, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, ErrNoResult
	}

	switch v := value.Export().(type) {
	case string:
		return &extractor.Result{
			HTML: "<p>" + html.EscapeString(v) + "</p>",
			Text: v,
		}, nil
	case map[string]interface{}:
		res := &extractor.Result{}
		res.HTML, _ = v["html"].(string)
		res.Text, _ = v["text"].(string)
		if res.HTML != "" {
			res.HTML = htmlPolicy.Sanitize(res.HTML)
		}
		if res.HTML == "" && res.Text != "" {
			res.HTML = "<p>" + html.EscapeString(res.Text) + "</p>"
		}
		switch n := v["itemCount"].(type) {
		case int64:
			res.Metadata.ItemCount = int(n)
		case float64:
			res.Metadata.ItemCount = int(n)
		}
		if custom, ok := v["custom"].(map[string]interface{}); ok {
			res.Metadata.Custom = custom
		}
		return res, nil
	default:
		return nil, fmt.Errorf("script returned unsupported %T", v)
	}
}
