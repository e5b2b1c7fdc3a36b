package outreach

import (
	"context"
	"time"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
)

// History reads today's send counts.
type History interface {
	// CountSince returns non-failed record counts grouped by source for records
	// sent at or after since.
	CountSince(ctx context.Context, since time.Time) (map[Source]int, error)
}

// DedupIndex answers whether a normalized phone appears in any prior record.
type DedupIndex interface {
	AlreadyContacted(ctx context.Context, phone string) (bool, error)
}

// Reservation asks a Store to admit and persist a provisional record.
type Reservation struct {
	Record   Record
	DayStart time.Time
	// Limit is the cap for Scope; Scope "" counts every source.
	Limit int
	Scope Source
}

// Store persists outreach records.
type Store interface {
	History
	DedupIndex
	// Reserve atomically counts today's records in the reservation scope and
	// inserts the pending record only when the count is below the limit. It
	// returns the scope count including the new record, or ErrQuotaExceeded
	// together with the current count.
	Reserve(ctx context.Context, res Reservation) (int, error)
	// Confirm moves a pending record to sent.
	Confirm(ctx context.Context, id string) error
	// Fail marks a record failed so it no longer counts against quotas.
	Fail(ctx context.Context, id string, reason string) error
	MarkReplied(ctx context.Context, id string, responseText string, at time.Time) error
	MarkConverted(ctx context.Context, id string, value *float64) error
}

// SettingsSource fetches the backend key-value outreach settings.
type SettingsSource interface {
	FetchSettings(ctx context.Context) (RemoteSettings, error)
}

// SettingsProvider exposes the current effective settings.
type SettingsProvider interface {
	Current() Settings
}

// Composer renders the outreach message for a contact.
type Composer interface {
	Compose(c Contact) (string, language.Language)
}

// Launcher hands a composed message to the external messaging surface and
// returns the target it opened.
type Launcher interface {
	Launch(phone, text, userAgent string) (string, error)
}

// Throttle admits or denies a send for a source. Record is called once per
// successful send.
type Throttle interface {
	Admit(ctx context.Context, source Source) Decision
	Record(source Source)
}

// Publisher pushes send events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
