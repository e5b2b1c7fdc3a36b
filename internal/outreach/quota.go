package outreach

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// QuotaTracker compares today's send counts against the configured caps.
type QuotaTracker struct {
	history  History
	settings SettingsProvider
	clock    Clock
	loc      *time.Location
	logger   *zap.Logger
}

// NewQuotaTracker builds a tracker. Days are cut at midnight in loc (UTC when nil).
func NewQuotaTracker(
	history History,
	settings SettingsProvider,
	clock Clock,
	loc *time.Location,
	logger *zap.Logger,
) *QuotaTracker {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaTracker{
		history:  history,
		settings: settings,
		clock:    clock,
		loc:      loc,
		logger:   logger,
	}
}

// DayStart returns midnight of the current day in the tracker's location.
func (q *QuotaTracker) DayStart() time.Time {
	now := q.clock.Now().In(q.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, q.loc)
}

// Settings returns the settings the tracker currently enforces.
func (q *QuotaTracker) Settings() Settings {
	return q.settings.Current()
}

// Check returns the quota snapshot for source, or the global snapshot when
// source is empty or has no per-source limit. Read failures produce a
// fail-closed snapshot carrying the error.
func (q *QuotaTracker) Check(ctx context.Context, source Source) QuotaSnapshot {
	limit, scope := q.settings.Current().LimitFor(source)
	counts, err := q.history.CountSince(ctx, q.DayStart())
	if err != nil {
		q.logger.Warn("quota read failed; denying", zap.String("source", string(source)), zap.Error(err))
		return QuotaSnapshot{Source: scope, DailyLimit: limit, CanSend: false, Err: err}
	}

	sent := 0
	if scope != "" {
		sent = counts[scope]
	} else {
		for _, n := range counts {
			sent += n
		}
	}
	remaining := remainingOf(limit, sent)
	return QuotaSnapshot{
		Source:     scope,
		Sent:       sent,
		DailyLimit: limit,
		Remaining:  remaining,
		CanSend:    remaining > 0,
		BySource:   counts,
	}
}

func remainingOf(limit, sent int) int {
	if sent >= limit {
		return 0
	}
	return limit - sent
}
