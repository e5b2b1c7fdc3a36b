package outreach

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// Settings is the effective outreach configuration.
type Settings struct {
	BusinessPhone    string         `json:"business_phone"`
	DisplayNumber    string         `json:"display_number"`
	DailyLimitGlobal int            `json:"daily_limit"`
	PerSourceLimits  map[Source]int `json:"per_source_limits"`
}

// DefaultSettings mirrors the values used until the backend settings load.
func DefaultSettings() Settings {
	return Settings{
		BusinessPhone:    "5215512345678",
		DisplayNumber:    "+52 55 1234 5678",
		DailyLimitGlobal: 50,
		PerSourceLimits: map[Source]int{
			SourceScanInvite: 20,
			SourceApify:      30,
		},
	}
}

// LimitFor returns the cap that applies to source and the scope it is counted
// in. Sources without a per-source limit share the global cap (scope "").
func (s Settings) LimitFor(source Source) (int, Source) {
	if limit, ok := s.PerSourceLimits[source]; ok && source != "" {
		return limit, source
	}
	return s.DailyLimitGlobal, ""
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	cp := s
	if s.PerSourceLimits != nil {
		cp.PerSourceLimits = make(map[Source]int, len(s.PerSourceLimits))
		for k, v := range s.PerSourceLimits {
			cp.PerSourceLimits[k] = v
		}
	}
	return cp
}

// RemoteSettings is the settings payload stored in the backend.
type RemoteSettings struct {
	Phone           string `json:"phone"`
	DisplayNumber   string `json:"display_number"`
	DailyLimit      *int   `json:"daily_limit"`
	LimitScanInvite *int   `json:"limit_scan_invite"`
	LimitApify      *int   `json:"limit_apify"`
}

// Merge overlays the non-empty remote values onto s.
func (s Settings) Merge(r RemoteSettings) Settings {
	out := s.Clone()
	if out.PerSourceLimits == nil {
		out.PerSourceLimits = map[Source]int{}
	}
	if r.Phone != "" {
		out.BusinessPhone = r.Phone
	}
	if r.DisplayNumber != "" {
		out.DisplayNumber = r.DisplayNumber
	}
	if r.DailyLimit != nil && *r.DailyLimit >= 0 {
		out.DailyLimitGlobal = *r.DailyLimit
	}
	if r.LimitScanInvite != nil && *r.LimitScanInvite >= 0 {
		out.PerSourceLimits[SourceScanInvite] = *r.LimitScanInvite
	}
	if r.LimitApify != nil && *r.LimitApify >= 0 {
		out.PerSourceLimits[SourceApify] = *r.LimitApify
	}
	return out
}

// StaticSettings is a SettingsProvider that never changes.
type StaticSettings Settings

// Current returns the wrapped settings.
func (s StaticSettings) Current() Settings { return Settings(s).Clone() }

// SettingsLoader merges backend settings over defaults. Load is awaited during
// bootstrap and may be called again later; the value is swapped atomically so
// readers never see a partial update.
type SettingsLoader struct {
	source   SettingsSource
	defaults Settings
	current  atomic.Pointer[Settings]
	logger   *zap.Logger
}

// NewSettingsLoader returns a loader that serves defaults until Load succeeds.
func NewSettingsLoader(source SettingsSource, defaults Settings, logger *zap.Logger) *SettingsLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &SettingsLoader{source: source, defaults: defaults.Clone(), logger: logger}
	initial := defaults.Clone()
	l.current.Store(&initial)
	return l
}

// Load fetches the backend settings and installs them. On error the previous
// settings stay in effect.
func (l *SettingsLoader) Load(ctx context.Context) (Settings, error) {
	if l.source == nil {
		return l.Current(), nil
	}
	remote, err := l.source.FetchSettings(ctx)
	if err != nil {
		return l.Current(), fmt.Errorf("fetch outreach settings: %w", err)
	}
	merged := l.defaults.Merge(remote)
	l.current.Store(&merged)
	l.logger.Info("outreach settings loaded",
		zap.Int("daily_limit", merged.DailyLimitGlobal),
		zap.Int("limit_scan_invite", merged.PerSourceLimits[SourceScanInvite]),
		zap.Int("limit_apify", merged.PerSourceLimits[SourceApify]),
	)
	return merged.Clone(), nil
}

// Current returns a copy of the effective settings.
func (l *SettingsLoader) Current() Settings {
	return l.current.Load().Clone()
}
