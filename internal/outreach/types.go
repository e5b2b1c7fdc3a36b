// Package outreach implements the WhatsApp outreach core: quota tracking per
// source, dedup against prior outreach, and the send orchestrator that ties
// validation, throttling, composition, persistence and dispatch together.
package outreach

import (
	"errors"
	"fmt"
	"time"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
)

// Sentinel errors shared by stores and the service.
var (
	ErrRecordNotFound = errors.New("outreach record not found")
	ErrQuotaExceeded  = errors.New("daily outreach quota exceeded")
	ErrInvalidSource  = errors.New("invalid outreach source")

	// ErrAlreadyContacted is returned by Store.Reserve when a non-failed
	// record already targets the phone.
	ErrAlreadyContacted = errors.New("phone already contacted")
)

// Source is the origin channel of a contact; quotas are segmented by it.
type Source string

// Known outreach sources.
const (
	SourceScanInvite Source = "scan_invite"
	SourceApify      Source = "apify"
	SourceManual     Source = "manual"
	SourceCRMQueue   Source = "crm_queue"
)

// Sources lists every known source in a stable order.
func Sources() []Source {
	return []Source{SourceScanInvite, SourceApify, SourceManual, SourceCRMQueue}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceScanInvite, SourceApify, SourceManual, SourceCRMQueue:
		return true
	default:
		return false
	}
}

// ParseSource converts a raw string into a Source.
func ParseSource(raw string) (Source, error) {
	s := Source(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
	return s, nil
}

// Status is the lifecycle state of a Record.
type Status string

// Record statuses. Pending records are provisional reservations written before
// dispatch; they count against quotas like sent ones.
const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusReplied Status = "replied"
	StatusFailed  Status = "failed"
)

// Contact is the caller-supplied target of a send.
type Contact struct {
	Phone    string            `json:"phone"`
	Name     string            `json:"name"`
	Company  string            `json:"company"`
	Language language.Language `json:"language,omitempty"`
}

// Record is one persisted outreach attempt.
type Record struct {
	ID              string            `json:"id"`
	Phone           string            `json:"phone"`
	ContactName     string            `json:"contact_name"`
	CompanyName     string            `json:"company_name"`
	Source          Source            `json:"source"`
	Message         string            `json:"message"`
	Language        language.Language `json:"language"`
	SentAt          time.Time         `json:"sent_at"`
	Status          Status            `json:"status"`
	RepliedAt       *time.Time        `json:"replied_at,omitempty"`
	ResponseText    *string           `json:"response_text,omitempty"`
	FailureReason   *string           `json:"failure_reason,omitempty"`
	Converted       bool              `json:"converted"`
	ConversionValue *float64          `json:"conversion_value,omitempty"`
}

// QuotaSnapshot is a point-in-time count/limit/remaining tuple. Source is empty
// for the global snapshot.
type QuotaSnapshot struct {
	Source     Source         `json:"source,omitempty"`
	Sent       int            `json:"sent"`
	DailyLimit int            `json:"daily_limit"`
	Remaining  int            `json:"remaining"`
	CanSend    bool           `json:"can_send"`
	BySource   map[Source]int `json:"by_source,omitempty"`
	Err        error          `json:"-"`
}

// Global reports whether the snapshot was computed against the aggregate cap.
func (q QuotaSnapshot) Global() bool { return q.Source == "" }

// Reason names the guard that terminated a send.
type Reason string

// Terminal reasons reported by Service.Send.
const (
	ReasonInvalidPhone     Reason = "invalid_phone"
	ReasonInvalidSource    Reason = "invalid_source"
	ReasonDailyLimit       Reason = "daily_limit"
	ReasonCooldown         Reason = "cooldown"
	ReasonHourlyLimit      Reason = "hourly_limit"
	ReasonAlreadyContacted Reason = "already_contacted"
	ReasonRPCError         Reason = "rpc_error"
	ReasonDispatchError    Reason = "dispatch_error"
)

// Decision is the verdict of a Throttle.
type Decision struct {
	Allowed    bool
	Reason     Reason
	Quota      *QuotaSnapshot
	RetryAfter time.Duration
}

// Allow is the zero-cost admitting decision.
func Allow() Decision { return Decision{Allowed: true} }

// SendRequest is the input to Service.Send.
type SendRequest struct {
	Contact Contact
	Source  Source
	// UserAgent selects the messaging surface the launcher targets.
	UserAgent string
}

// Result is the structured outcome of one Send call.
type Result struct {
	Success    bool              `json:"success"`
	RecordID   string            `json:"record_id,omitempty"`
	Remaining  *int              `json:"remaining,omitempty"`
	Reason     Reason            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Quota      *QuotaSnapshot    `json:"quota,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Message    string            `json:"message,omitempty"`
	Language   language.Language `json:"language,omitempty"`
	LaunchURL  string            `json:"launch_url,omitempty"`
	Confirmed  bool              `json:"confirmed"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
}

// SentEvent is published after a successful send.
type SentEvent struct {
	RecordID string            `json:"record_id"`
	Phone    string            `json:"phone"`
	Source   Source            `json:"source"`
	Language language.Language `json:"language"`
	SentAt   time.Time         `json:"sent_at"`
}
