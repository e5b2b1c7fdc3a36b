package outreach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/logging"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/metrics"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

// ServiceOptions wires a Service. Throttle and Publisher are optional; without
// a Throttle the quota tracker alone gates sends.
type ServiceOptions struct {
	Store      Store
	Quota      *QuotaTracker
	Dedup      *DedupGuard
	Throttle   Throttle
	Composer   Composer
	Launcher   Launcher
	Publisher  Publisher
	EventTopic string
	Clock      Clock
	IDs        IDGenerator
	Logger     *zap.Logger
}

// Service orchestrates a single outreach send:
// validate, throttle, dedup, compose, reserve, dispatch, confirm.
type Service struct {
	store     Store
	quota     *QuotaTracker
	dedup     *DedupGuard
	throttle  Throttle
	composer  Composer
	launcher  Launcher
	publisher Publisher
	topic     string
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewService validates opts and constructs a Service.
func NewService(opts ServiceOptions) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("outreach store is required")
	case opts.Quota == nil:
		return nil, errors.New("quota tracker is required")
	case opts.Dedup == nil:
		return nil, errors.New("dedup guard is required")
	case opts.Composer == nil:
		return nil, errors.New("composer is required")
	case opts.Launcher == nil:
		return nil, errors.New("launcher is required")
	case opts.Clock == nil:
		return nil, errors.New("clock is required")
	case opts.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     opts.Store,
		quota:     opts.Quota,
		dedup:     opts.Dedup,
		throttle:  opts.Throttle,
		composer:  opts.Composer,
		launcher:  opts.Launcher,
		publisher: opts.Publisher,
		topic:     opts.EventTopic,
		clock:     opts.Clock,
		ids:       opts.IDs,
		logger:    logger,
	}, nil
}

// Quota exposes the tracker for read-only callers such as the API.
func (s *Service) Quota() *QuotaTracker { return s.quota }

// CheckQuota returns today's snapshot for source ("" for the global cap).
func (s *Service) CheckQuota(ctx context.Context, source Source) QuotaSnapshot {
	snap := s.quota.Check(ctx, source)
	if snap.Err == nil {
		metrics.SetQuotaRemaining(string(snap.Source), snap.Remaining)
	}
	return snap
}

var tracer = otel.Tracer("github.com/GeobookerMx/Geobooker3-sub001/internal/outreach")

// Send runs the outreach state machine once. Every failure is terminal and
// reported in the Result; nothing is retried.
func (s *Service) Send(ctx context.Context, req SendRequest) Result {
	ctx, span := tracer.Start(ctx, "outreach.Send",
		trace.WithAttributes(attribute.String("outreach.source", string(req.Source))))
	defer span.End()

	res := s.send(ctx, req)
	span.SetAttributes(attribute.Bool("outreach.success", res.Success))
	if res.RecordID != "" {
		span.SetAttributes(attribute.String("outreach.record_id", res.RecordID))
	}
	if !res.Success {
		span.SetStatus(codes.Error, string(res.Reason))
	}
	return res
}

func (s *Service) send(ctx context.Context, req SendRequest) Result {
	if !req.Source.Valid() {
		return s.finish(req, Result{
			Reason: ReasonInvalidSource,
			Error:  fmt.Sprintf("%v: %q", ErrInvalidSource, req.Source),
		})
	}
	if !phone.IsValid(req.Contact.Phone) {
		return s.finish(req, Result{Reason: ReasonInvalidPhone, Error: "invalid phone number"})
	}
	normalized := phone.Normalize(req.Contact.Phone)

	decision := s.admit(ctx, req.Source)
	if !decision.Allowed {
		res := Result{
			Phone:      normalized,
			Reason:     decision.Reason,
			Quota:      decision.Quota,
			RetryAfter: decision.RetryAfter,
			Error:      denialMessage(decision),
		}
		if decision.Quota != nil {
			res.Remaining = intPtr(decision.Quota.Remaining)
		}
		return s.finish(req, res)
	}

	blocked, err := s.dedup.Blocked(ctx, normalized)
	if blocked {
		res := Result{Phone: normalized, Reason: ReasonAlreadyContacted, Error: "phone already contacted"}
		if err != nil {
			res.Reason = ReasonRPCError
			res.Error = err.Error()
		}
		return s.finish(req, res)
	}

	contact := req.Contact
	contact.Phone = normalized
	text, lang := s.composer.Compose(contact)

	id, err := s.ids.NewID()
	if err != nil {
		return s.finish(req, Result{Phone: normalized, Reason: ReasonRPCError, Error: err.Error()})
	}
	settings := s.quota.Settings()
	limit, scope := settings.LimitFor(req.Source)
	record := Record{
		ID:          id,
		Phone:       normalized,
		ContactName: contact.Name,
		CompanyName: contact.Company,
		Source:      req.Source,
		Message:     text,
		Language:    lang,
		SentAt:      s.clock.Now(),
		Status:      StatusPending,
	}
	sent, err := s.store.Reserve(ctx, Reservation{
		Record:   record,
		DayStart: s.quota.DayStart(),
		Limit:    limit,
		Scope:    scope,
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			snap := QuotaSnapshot{Source: scope, Sent: sent, DailyLimit: limit}
			return s.finish(req, Result{
				Phone:     normalized,
				Reason:    ReasonDailyLimit,
				Quota:     &snap,
				Remaining: intPtr(0),
				Error:     fmt.Sprintf("daily limit reached (%d/%d)", sent, limit),
			})
		}
		if errors.Is(err, ErrAlreadyContacted) {
			return s.finish(req, Result{Phone: normalized, Reason: ReasonAlreadyContacted, Error: "phone already contacted"})
		}
		return s.finish(req, Result{Phone: normalized, Reason: ReasonRPCError, Error: err.Error()})
	}

	target, err := s.launcher.Launch(normalized, text, req.UserAgent)
	if err != nil {
		if ferr := s.store.Fail(ctx, id, err.Error()); ferr != nil {
			s.logger.Error("mark record failed", zap.String("record_id", id), zap.Error(ferr))
		}
		return s.finish(req, Result{Phone: normalized, RecordID: id, Reason: ReasonDispatchError, Error: err.Error()})
	}

	confirmed := true
	if err := s.store.Confirm(ctx, id); err != nil {
		// The pending record remains as the audit trail for this dispatch.
		confirmed = false
		s.logger.Error("confirm record failed", zap.String("record_id", id), zap.Error(err))
	}
	if s.throttle != nil {
		s.throttle.Record(req.Source)
	}
	s.publish(ctx, record)

	return s.finish(req, Result{
		Success:   true,
		RecordID:  id,
		Remaining: intPtr(remainingOf(limit, sent)),
		Phone:     normalized,
		Message:   text,
		Language:  lang,
		LaunchURL: target,
		Confirmed: confirmed,
	})
}

// MarkReplied records a contact's reply.
func (s *Service) MarkReplied(ctx context.Context, id, responseText string) error {
	if err := s.store.MarkReplied(ctx, id, responseText, s.clock.Now()); err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	metrics.ObserveLifecycle(string(StatusReplied))
	return nil
}

// MarkConverted flags a record as converted with an optional value.
func (s *Service) MarkConverted(ctx context.Context, id string, value *float64) error {
	if err := s.store.MarkConverted(ctx, id, value); err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}
	metrics.ObserveLifecycle("converted")
	return nil
}

func (s *Service) admit(ctx context.Context, source Source) Decision {
	if s.throttle != nil {
		return s.throttle.Admit(ctx, source)
	}
	snap := s.quota.Check(ctx, source)
	if !snap.CanSend {
		return Decision{Reason: ReasonDailyLimit, Quota: &snap}
	}
	return Decision{Allowed: true, Quota: &snap}
}

func (s *Service) publish(ctx context.Context, record Record) {
	if s.publisher == nil || s.topic == "" {
		return
	}
	event := SentEvent{
		RecordID: record.ID,
		Phone:    record.Phone,
		Source:   record.Source,
		Language: record.Language,
		SentAt:   record.SentAt,
	}
	if _, err := s.publisher.Publish(ctx, s.topic, event); err != nil {
		s.logger.Warn("publish sent event failed", zap.String("record_id", record.ID), zap.Error(err))
	}
}

// finish emits the single notification for a terminal state.
func (s *Service) finish(req SendRequest, res Result) Result {
	outcome := "sent"
	if !res.Success {
		outcome = string(res.Reason)
	}
	metrics.ObserveSend(string(req.Source), outcome)
	fields := []zap.Field{
		zap.String("source", string(req.Source)),
		zap.String("outcome", outcome),
	}
	if res.Phone != "" {
		fields = append(fields, logging.Phone("phone", res.Phone))
	}
	if res.RecordID != "" {
		fields = append(fields, zap.String("record_id", res.RecordID))
	}
	if res.Remaining != nil {
		fields = append(fields, zap.Int("remaining", *res.Remaining))
		metrics.SetQuotaRemaining(string(s.remainingScope(req, res)), *res.Remaining)
	}
	if res.Success {
		s.logger.Info("outreach sent", fields...)
	} else {
		s.logger.Warn("outreach rejected", append(fields, zap.String("error", res.Error))...)
	}
	return res
}

// remainingScope is the quota scope res.Remaining was computed against: the
// source itself or "" when the source falls back to the global cap.
func (s *Service) remainingScope(req SendRequest, res Result) Source {
	if res.Quota != nil {
		return res.Quota.Source
	}
	_, scope := s.quota.Settings().LimitFor(req.Source)
	return scope
}

func denialMessage(d Decision) string {
	switch d.Reason {
	case ReasonDailyLimit:
		if d.Quota != nil && d.Quota.Err != nil {
			return fmt.Sprintf("quota unavailable: %v", d.Quota.Err)
		}
		if d.Quota != nil {
			return fmt.Sprintf("daily limit reached (%d/%d)", d.Quota.Sent, d.Quota.DailyLimit)
		}
		return "daily limit reached"
	case ReasonCooldown:
		return fmt.Sprintf("cooldown active, retry in %s", d.RetryAfter.Round(time.Second))
	case ReasonHourlyLimit:
		return fmt.Sprintf("hourly limit reached, resets in %s", d.RetryAfter.Round(time.Second))
	default:
		return string(d.Reason)
	}
}

func intPtr(v int) *int { return &v }
