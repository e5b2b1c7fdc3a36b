package outreach_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/clock/fake"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/id/uuid"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/message"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	pubmem "github.com/GeobookerMx/Geobooker3-sub001/internal/publisher/memory"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/storage/memory"
)

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

// faultyStore wraps the memory store and injects errors per operation.
type faultyStore struct {
	*memory.OutreachStore
	countErr   error
	dedupErr   error
	reserveErr error
	confirmErr error

	// dedupBarrier, when set, holds every dedup lookup until all parties
	// have read their answer.
	dedupBarrier *sync.WaitGroup
}

func (f *faultyStore) CountSince(ctx context.Context, since time.Time) (map[outreach.Source]int, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	return f.OutreachStore.CountSince(ctx, since)
}

func (f *faultyStore) AlreadyContacted(ctx context.Context, phone string) (bool, error) {
	if f.dedupErr != nil {
		return false, f.dedupErr
	}
	found, err := f.OutreachStore.AlreadyContacted(ctx, phone)
	if f.dedupBarrier != nil {
		f.dedupBarrier.Done()
		f.dedupBarrier.Wait()
	}
	return found, err
}

func (f *faultyStore) Reserve(ctx context.Context, res outreach.Reservation) (int, error) {
	if f.reserveErr != nil {
		return 0, f.reserveErr
	}
	return f.OutreachStore.Reserve(ctx, res)
}

func (f *faultyStore) Confirm(ctx context.Context, id string) error {
	if f.confirmErr != nil {
		return f.confirmErr
	}
	return f.OutreachStore.Confirm(ctx, id)
}

type failingLauncher struct{ err error }

func (l failingLauncher) Launch(string, string, string) (string, error) { return "", l.err }

type fixture struct {
	store     *faultyStore
	clock     *fake.Clock
	publisher *pubmem.Publisher
	settings  outreach.Settings
	failOpen  bool
	launcher  outreach.Launcher
	throttle  func(*outreach.QuotaTracker) outreach.Throttle
}

func newFixture() *fixture {
	return &fixture{
		store:     &faultyStore{OutreachStore: memory.NewOutreachStore()},
		clock:     fake.New(now),
		publisher: pubmem.New(),
		settings:  outreach.DefaultSettings(),
		launcher:  message.NewLauncher(),
	}
}

func (f *fixture) tracker() *outreach.QuotaTracker {
	return outreach.NewQuotaTracker(f.store, outreach.StaticSettings(f.settings), f.clock, time.UTC, nil)
}

func (f *fixture) service(t *testing.T) *outreach.Service {
	t.Helper()
	tracker := f.tracker()
	opts := outreach.ServiceOptions{
		Store:      f.store,
		Quota:      tracker,
		Dedup:      outreach.NewDedupGuard(f.store, f.failOpen, nil),
		Composer:   message.NewComposer(),
		Launcher:   f.launcher,
		Publisher:  f.publisher,
		EventTopic: "outreach-sent",
		Clock:      f.clock,
		IDs:        uuid.NewUUIDGenerator(),
	}
	if f.throttle != nil {
		opts.Throttle = f.throttle(tracker)
	}
	svc, err := outreach.NewService(opts)
	require.NoError(t, err)
	return svc
}

// seed inserts n sent records for source today with distinct phones.
func (f *fixture) seed(source outreach.Source, n int) {
	for i := 0; i < n; i++ {
		f.store.Seed(outreach.Record{
			ID:     string(source) + "-" + string(rune('a'+i)),
			Phone:  "+5255000000" + twoDigits(i),
			Source: source,
			SentAt: now.Add(-time.Duration(i+1) * time.Minute),
			Status: outreach.StatusSent,
		})
	}
}

func twoDigits(i int) string {
	return string([]byte{byte('0' + i/10%10), byte('0' + i%10)})
}

var errBackend = errors.New("backend unavailable")
