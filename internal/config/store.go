package config

import (
	"fmt"
	"sync/atomic"

	"github.com/mitchellh/mapstructure"
)

// SettingsSection is the key editors nest phpinline settings under.
const SettingsSection = "phpInline"

// Store publishes an immutable Config snapshot that can be swapped at runtime.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.current.Store(&cfg)
	return s
}

// Snapshot returns the current settings by value.
func (s *Store) Snapshot() Config {
	return *s.current.Load()
}

// Apply merges a loose settings object (as delivered by
// workspace/didChangeConfiguration) into the current snapshot. Settings may
// be nested under SettingsSection or passed flat; keys that are absent keep
// their current value. The merged result is validated before it is published.
func (s *Store) Apply(settings any) error {
	raw, ok := settings.(map[string]any)
	if !ok {
		if settings == nil {
			return nil
		}
		return fmt.Errorf("config: settings must be an object, got %T", settings)
	}
	if nested, ok := raw[SettingsSection].(map[string]any); ok {
		raw = nested
	}

	next := s.Snapshot()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &next,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("config: decoding settings: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	s.current.Store(&next)
	return nil
}
