package extractor

import (
	"fmt"
	"reflect"
)

// Info is the identity of an extractor.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Base provides identity and the shared configuration checks.
// Embed this in concrete extractors; units that add their own checks must
// call Base.ValidateConfig first.
type Base struct {
	info     Info
	defaults Config
}

// NewBase creates a base from identity and default configuration.
func NewBase(info Info, defaults Config) Base {
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return Base{info: info, defaults: defaults}
}

// ID returns the extractor id.
func (b *Base) ID() string {
	return b.info.ID
}

// Name returns the extractor name.
func (b *Base) Name() string {
	return b.info.Name
}

// Description returns the extractor description.
func (b *Base) Description() string {
	return b.info.Description
}

// Version returns the extractor version.
func (b *Base) Version() string {
	return b.info.Version
}

// DefaultConfig returns a copy of the default configuration.
func (b *Base) DefaultConfig() Config {
	return Merge(b.defaults)
}

// ValidateConfig performs the checks every extractor shares: priority must be
// non-negative and settings must hold only data values.
func (b *Base) ValidateConfig(cfg Config) error {
	return ValidateBase(cfg)
}

// ValidateBase is the shared configuration check.
func ValidateBase(cfg Config) error {
	if cfg.Priority < 0 {
		return fmt.Errorf("priority must be a non-negative number, got %d", cfg.Priority)
	}
	for key, value := range cfg.Settings {
		if value == nil {
			continue
		}
		switch reflect.TypeOf(value).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return fmt.Errorf("setting %q must be a data value, got %T", key, value)
		}
	}
	return nil
}
