package extractor

import (
	"time"
)

// Config is the effective configuration of a registered unit.
type Config struct {
	// Enabled excludes the unit from execution when false.
	Enabled bool `json:"enabled" koanf:"enabled"`
	// Priority orders admission: higher values run earlier.
	Priority int `json:"priority" koanf:"priority"`
	// Settings holds unit-specific options.
	Settings Settings `json:"settings,omitempty" koanf:"settings"`
}

// Override is a partial configuration layer. Nil fields are absent and leave
// the underlying value unchanged.
type Override struct {
	Enabled  *bool    `json:"enabled,omitempty" koanf:"enabled"`
	Priority *int     `json:"priority,omitempty" koanf:"priority"`
	Settings Settings `json:"settings,omitempty" koanf:"settings"`
}

// Bool returns a pointer to b, for building overrides.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for building overrides.
func Int(i int) *int { return &i }

// Settings is an open-ended map of unit options.
type Settings map[string]interface{}

// Clone returns a shallow copy of the settings map.
func (s Settings) Clone() Settings {
	if s == nil {
		return nil
	}
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Has checks if a key exists.
func (s Settings) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// String returns a value as string.
func (s Settings) String(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

// StringWithDefault returns a value as string with default.
func (s Settings) StringWithDefault(key, defaultVal string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// Bool returns a value as bool.
func (s Settings) Bool(key string) bool {
	return s.BoolWithDefault(key, false)
}

// BoolWithDefault returns a value as bool with default.
func (s Settings) BoolWithDefault(key string, defaultVal bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return defaultVal
}

// Int returns a value as int.
func (s Settings) Int(key string) int {
	return s.IntWithDefault(key, 0)
}

// IntWithDefault returns a value as int with default.
func (s Settings) IntWithDefault(key string, defaultVal int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int32:
		return int(v)
	}
	return defaultVal
}

// Float returns a value as float64.
func (s Settings) Float(key string) float64 {
	return s.FloatWithDefault(key, 0)
}

// FloatWithDefault returns a value as float64 with default.
func (s Settings) FloatWithDefault(key string, defaultVal float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// IsNumber reports whether the key holds a numeric value.
func (s Settings) IsNumber(key string) bool {
	switch s[key].(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

// StringSlice returns a value as a string slice. Non-string elements are dropped.
func (s Settings) StringSlice(key string) []string {
	switch v := s[key].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Duration returns a value as a duration. Strings are parsed with
// time.ParseDuration and numbers are read as milliseconds.
func (s Settings) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := s[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int, int64, float64:
		return time.Duration(s.IntWithDefault(key, 0)) * time.Millisecond
	}
	return defaultVal
}
