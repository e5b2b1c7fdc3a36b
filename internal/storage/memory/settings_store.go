package memory

import (
	"context"
	"sync"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// SettingsStore serves outreach settings from memory.
type SettingsStore struct {
	mu       sync.RWMutex
	settings outreach.RemoteSettings
	err      error
}

// NewSettingsStore returns a store holding settings.
func NewSettingsStore(settings outreach.RemoteSettings) *SettingsStore {
	return &SettingsStore{settings: settings}
}

// Set replaces the stored settings.
func (s *SettingsStore) Set(settings outreach.RemoteSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// SetError makes subsequent fetches fail with err (nil clears it).
func (s *SettingsStore) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchSettings returns the stored settings.
func (s *SettingsStore) FetchSettings(_ context.Context) (outreach.RemoteSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return outreach.RemoteSettings{}, s.err
	}
	return s.settings, nil
}
