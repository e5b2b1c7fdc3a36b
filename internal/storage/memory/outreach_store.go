// Package memory provides in-memory outreach persistence for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// OutreachStore keeps records in a map. Reserve holds the write lock across
// the count and the insert, so admission is atomic within the process.
type OutreachStore struct {
	mu      sync.RWMutex
	records map[string]outreach.Record
}

// NewOutreachStore constructs an empty OutreachStore.
func NewOutreachStore() *OutreachStore {
	return &OutreachStore{records: make(map[string]outreach.Record)}
}

// Seed inserts records as-is, bypassing quota checks.
func (s *OutreachStore) Seed(records ...outreach.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
}

// CountSince groups non-failed records sent at or after since by source.
func (s *OutreachStore) CountSince(_ context.Context, since time.Time) (map[outreach.Source]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countSinceLocked(since), nil
}

func (s *OutreachStore) countSinceLocked(since time.Time) map[outreach.Source]int {
	counts := make(map[outreach.Source]int)
	for _, r := range s.records {
		if r.Status == outreach.StatusFailed || r.SentAt.Before(since) {
			continue
		}
		counts[r.Source]++
	}
	return counts
}

// AlreadyContacted reports whether any non-failed record targets phone.
func (s *OutreachStore) AlreadyContacted(_ context.Context, phone string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contactedLocked(phone), nil
}

func (s *OutreachStore) contactedLocked(phone string) bool {
	for _, r := range s.records {
		if r.Phone == phone && r.Status != outreach.StatusFailed {
			return true
		}
	}
	return false
}

// Reserve inserts res.Record when the scope count is below res.Limit and no
// non-failed record targets the same phone.
func (s *OutreachStore) Reserve(_ context.Context, res outreach.Reservation) (int, error) {
	if res.Record.ID == "" {
		return 0, errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[res.Record.ID]; exists {
		return 0, fmt.Errorf("record %s already exists", res.Record.ID)
	}
	if s.contactedLocked(res.Record.Phone) {
		return 0, outreach.ErrAlreadyContacted
	}
	counts := s.countSinceLocked(res.DayStart)
	sent := 0
	if res.Scope != "" {
		sent = counts[res.Scope]
	} else {
		for _, n := range counts {
			sent += n
		}
	}
	if sent >= res.Limit {
		return sent, outreach.ErrQuotaExceeded
	}
	rec := res.Record
	if rec.Status == "" {
		rec.Status = outreach.StatusPending
	}
	s.records[rec.ID] = rec
	return sent + 1, nil
}

// Confirm moves a pending record to sent.
func (s *OutreachStore) Confirm(_ context.Context, id string) error {
	return s.update(id, func(r *outreach.Record) {
		if r.Status == outreach.StatusPending {
			r.Status = outreach.StatusSent
		}
	})
}

// Fail marks a record failed.
func (s *OutreachStore) Fail(_ context.Context, id string, reason string) error {
	return s.update(id, func(r *outreach.Record) {
		r.Status = outreach.StatusFailed
		r.FailureReason = stringPtr(reason)
	})
}

// MarkReplied records a reply.
func (s *OutreachStore) MarkReplied(_ context.Context, id, responseText string, at time.Time) error {
	return s.update(id, func(r *outreach.Record) {
		r.Status = outreach.StatusReplied
		r.RepliedAt = timePtr(at)
		r.ResponseText = stringPtr(responseText)
	})
}

// MarkConverted flags a record as converted.
func (s *OutreachStore) MarkConverted(_ context.Context, id string, value *float64) error {
	return s.update(id, func(r *outreach.Record) {
		r.Converted = true
		if value != nil {
			v := *value
			r.ConversionValue = &v
		}
	})
}

// Get fetches a record by ID.
func (s *OutreachStore) Get(_ context.Context, id string) (outreach.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return outreach.Record{}, outreach.ErrRecordNotFound
	}
	return r, nil
}

// List returns all records ordered by send time.
func (s *OutreachStore) List(_ context.Context) ([]outreach.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]outreach.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out, nil
}

func (s *OutreachStore) update(id string, fn func(*outreach.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return outreach.ErrRecordNotFound
	}
	fn(&r)
	s.records[id] = r
	return nil
}

func stringPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time {
	ts := t
	return &ts
}
