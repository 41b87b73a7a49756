package config

import (
	"context"
	"reflect"
	"sync"

	"github.com/coachpo/venuelink/internal/domain/schema"
)

// AppConfigStore holds the live configuration and notifies a callback on change.
// It serves credentials to the venue client so a reload rotates them in place.
type AppConfigStore struct {
	mu       sync.RWMutex
	cfg      AppConfig
	onChange func(AppConfig) error
}

// NewAppConfigStore seeds a store with initial, which must validate.
func NewAppConfigStore(initial AppConfig, onChange func(AppConfig) error) (*AppConfigStore, error) {
	clone := initial.WithDefaults()
	if err := clone.Validate(); err != nil {
		return nil, err
	}
	return &AppConfigStore{cfg: clone, onChange: onChange}, nil
}

// Snapshot returns a copy of the current configuration.
func (s *AppConfigStore) Snapshot() AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Credential implements the venue credential source.
func (s *AppConfigStore) Credential(context.Context) (schema.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Credential(), nil
}

// Replace swaps the configuration. An invalid cfg leaves the store unchanged.
// The callback runs only when the normalised configuration differs.
func (s *AppConfigStore) Replace(cfg AppConfig) error {
	updated := cfg.WithDefaults()
	if err := updated.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reflect.DeepEqual(s.cfg, updated) {
		return nil
	}
	if s.onChange != nil {
		if err := s.onChange(updated); err != nil {
			return err
		}
	}
	s.cfg = updated
	return nil
}

// Reload re-reads configPath and the environment, then replaces the snapshot.
func (s *AppConfigStore) Reload(ctx context.Context, configPath string) error {
	cfg, err := Load(ctx, configPath)
	if err != nil {
		return err
	}
	return s.Replace(cfg)
}
