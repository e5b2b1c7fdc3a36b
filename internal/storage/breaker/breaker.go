// Package breaker decorates the outreach backend with a circuit breaker so a
// failing database turns into fast rpc_error results instead of piled-up
// timeouts.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/metrics"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// Backend is what the breaker wraps: the record store plus the settings source.
type Backend interface {
	outreach.Store
	outreach.SettingsSource
}

// Config tunes the breaker.
type Config struct {
	Name string
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
	// Interval resets the counts while closed.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MinRequests and FailureRatio decide when to trip.
	MinRequests  uint32
	FailureRatio float64
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		Name:         "outreach-store",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// Store is a Backend guarded by a circuit breaker.
type Store struct {
	next   Backend
	cb     *gobreaker.CircuitBreaker[any]
	name   string
	logger *zap.Logger
}

var _ Backend = (*Store)(nil)

// New wraps next.
func New(next Backend, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	s := &Store{next: next, name: cfg.Name, logger: logger.Named("breaker")}
	metrics.SetBreakerState(cfg.Name, stateToFloat(gobreaker.StateClosed))

	s.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, stateToFloat(to))
		},
		IsSuccessful: isSuccessful,
	})
	return s
}

// State reports the current breaker state.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

func (s *Store) execute(fn func() (any, error)) (any, error) {
	result, err := s.cb.Execute(fn)
	switch {
	case isSuccessful(err):
		metrics.ObserveBreakerRequest(s.name, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveBreakerRequest(s.name, "rejected")
		return nil, fmt.Errorf("%s: %w", s.name, err)
	default:
		metrics.ObserveBreakerRequest(s.name, "failure")
	}
	return result, err
}

// isSuccessful treats business outcomes as answers, not backend failures.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, outreach.ErrQuotaExceeded) ||
		errors.Is(err, outreach.ErrAlreadyContacted) ||
		errors.Is(err, outreach.ErrRecordNotFound) ||
		errors.Is(err, context.Canceled)
}

func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		if typed, ok := result.(T); ok {
			return typed, err
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// CountSince implements outreach.History.
func (s *Store) CountSince(ctx context.Context, since time.Time) (map[outreach.Source]int, error) {
	return castResult[map[outreach.Source]int](s.execute(func() (any, error) {
		return s.next.CountSince(ctx, since)
	}))
}

// AlreadyContacted implements outreach.DedupIndex.
func (s *Store) AlreadyContacted(ctx context.Context, phone string) (bool, error) {
	return castResult[bool](s.execute(func() (any, error) {
		return s.next.AlreadyContacted(ctx, phone)
	}))
}

// Reserve implements outreach.Store. The scope count survives ErrQuotaExceeded.
func (s *Store) Reserve(ctx context.Context, res outreach.Reservation) (int, error) {
	return castResult[int](s.execute(func() (any, error) {
		return s.next.Reserve(ctx, res)
	}))
}

// Confirm implements outreach.Store.
func (s *Store) Confirm(ctx context.Context, id string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Confirm(ctx, id)
	})
	return err
}

// Fail implements outreach.Store.
func (s *Store) Fail(ctx context.Context, id string, reason string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.Fail(ctx, id, reason)
	})
	return err
}

// MarkReplied implements outreach.Store.
func (s *Store) MarkReplied(ctx context.Context, id, responseText string, at time.Time) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.MarkReplied(ctx, id, responseText, at)
	})
	return err
}

// MarkConverted implements outreach.Store.
func (s *Store) MarkConverted(ctx context.Context, id string, value *float64) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.next.MarkConverted(ctx, id, value)
	})
	return err
}

// FetchSettings implements outreach.SettingsSource.
func (s *Store) FetchSettings(ctx context.Context) (outreach.RemoteSettings, error) {
	return castResult[outreach.RemoteSettings](s.execute(func() (any, error) {
		return s.next.FetchSettings(ctx)
	}))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
