// Package extractor defines the contract shared by every digest extractor.
//
// An extractor is a named, versioned unit of work. Given the day's lifelog
// records and a read-only Env, it produces a Result with HTML content, a
// plain-text fallback and metadata. Units are registered with a
// registry.Registry, which merges and validates their configuration and
// runs them concurrently.
//
// # Configuration
//
// The effective configuration of a unit is built by shallow merge:
//
//	defaults := ext.DefaultConfig()
//	cfg := extractor.Merge(defaults, globalOverride, registrationOverride)
//
// Later layers overwrite earlier ones key by key. A layer that supplies
// Settings replaces the whole settings map; settings are never deep-merged.
//
// # Writing an extractor
//
// Embed Base for identity and the shared checks:
//
//	type Quotes struct {
//	    extractor.Base
//	}
//
//	func New() *Quotes {
//	    return &Quotes{Base: extractor.NewBase(extractor.Info{
//	        ID:   "quotes",
//	        Name: "Quotes of the Day",
//	    }, extractor.Config{Enabled: true, Priority: 10})}
//	}
//
//	func (q *Quotes) ValidateConfig(cfg extractor.Config) error {
//	    if err := q.Base.ValidateConfig(cfg); err != nil {
//	        return err
//	    }
//	    // unit-specific checks
//	    return nil
//	}
//
// Units needing setup implement Initializer; units holding resources
// implement Cleaner.
package extractor
