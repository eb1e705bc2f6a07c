package extractor

// Merge layers overrides onto base in order. Each layer overwrites keys
// shallowly: a layer that supplies Settings replaces the whole map.
func Merge(base Config, layers ...*Override) Config {
	merged := Config{
		Enabled:  base.Enabled,
		Priority: base.Priority,
		Settings: base.Settings.Clone(),
	}

	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if layer.Enabled != nil {
			merged.Enabled = *layer.Enabled
		}
		if layer.Priority != nil {
			merged.Priority = *layer.Priority
		}
		if layer.Settings != nil {
			merged.Settings = layer.Settings.Clone()
		}
	}

	return merged
}

// Apply returns c with o layered on top.
func (c Config) Apply(o Override) Config {
	return Merge(c, &o)
}

// IsZero reports whether the override changes nothing.
func (o *Override) IsZero() bool {
	return o == nil || (o.Enabled == nil && o.Priority == nil && o.Settings == nil)
}
