package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/clock/fake"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/config"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/id/uuid"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/message"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/storage/memory"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func TestServer_Send_Succeeds(t *testing.T) {
	t.Parallel()

	server, store := newIntegrationServer(t, config.Config{})
	body := `{"phone":"55 1234 5678","name":"Ana","company":"Tacos Ana","source":"scan_invite"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/outreach/send", bytes.NewBufferString(body))
	req.Header.Set("User-Agent", "Mozilla/5.0 (Linux; Android 14)")
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res outreach.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "+525512345678", res.Phone)
	require.NotNil(t, res.Remaining)
	assert.Equal(t, 19, *res.Remaining)
	assert.Contains(t, res.LaunchURL, "whatsapp://send?phone=525512345678")

	records, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, outreach.StatusSent, records[0].Status)
}

func TestServer_Send_StatusMapping(t *testing.T) {
	t.Parallel()

	server, store := newIntegrationServer(t, config.Config{})
	store.Seed(outreach.Record{
		ID: "prior", Phone: "+525511112222", Source: outreach.SourceApify, SentAt: testNow, Status: outreach.StatusSent,
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid phone", `{"phone":"123","source":"apify"}`, http.StatusUnprocessableEntity},
		{"already contacted", `{"phone":"5511112222","source":"apify"}`, http.StatusConflict},
		{"unknown source", `{"phone":"5512345678","source":"billboard"}`, http.StatusBadRequest},
		{"missing phone", `{"source":"apify"}`, http.StatusBadRequest},
		{"bad language", `{"phone":"5512345678","source":"apify","language":"fr"}`, http.StatusBadRequest},
		{"malformed", `{"phone":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/v1/outreach/send", bytes.NewBufferString(tt.body))
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, "%s: %s", tt.name, rec.Body.String())
	}
}

func TestServer_Send_DailyLimitSetsRetryAfterOnCooldown(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.On("Send", mock.Anything, mock.Anything).Return(outreach.Result{
		Reason:     outreach.ReasonCooldown,
		RetryAfter: 42 * time.Second,
	})
	server := NewServer(svc, nil, nil, config.Config{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/outreach/send",
		bytes.NewBufferString(`{"phone":"5512345678","source":"manual"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	svc.AssertExpectations(t)
}

func TestStatusForResult(t *testing.T) {
	t.Parallel()

	cases := map[outreach.Reason]int{
		outreach.ReasonInvalidPhone:     http.StatusUnprocessableEntity,
		outreach.ReasonInvalidSource:    http.StatusBadRequest,
		outreach.ReasonDailyLimit:       http.StatusTooManyRequests,
		outreach.ReasonCooldown:         http.StatusTooManyRequests,
		outreach.ReasonHourlyLimit:      http.StatusTooManyRequests,
		outreach.ReasonAlreadyContacted: http.StatusConflict,
		outreach.ReasonRPCError:         http.StatusBadGateway,
		outreach.ReasonDispatchError:    http.StatusBadGateway,
	}
	for reason, want := range cases {
		assert.Equal(t, want, statusForResult(outreach.Result{Reason: reason}), reason)
	}
	assert.Equal(t, http.StatusOK, statusForResult(outreach.Result{Success: true}))
}

func TestServer_Quota(t *testing.T) {
	t.Parallel()

	server, store := newIntegrationServer(t, config.Config{})
	store.Seed(outreach.Record{
		ID: "a", Phone: "+525500000001", Source: outreach.SourceApify, SentAt: testNow, Status: outreach.StatusSent,
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outreach/quota?source=apify", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap outreach.QuotaSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, outreach.SourceApify, snap.Source)
	assert.Equal(t, 1, snap.Sent)
	assert.Equal(t, 29, snap.Remaining)
	assert.True(t, snap.CanSend)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outreach/quota", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 50, snap.DailyLimit)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outreach/quota?source=fax", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_QuotaReadFailure(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.On("CheckQuota", mock.Anything, outreach.SourceApify).
		Return(outreach.QuotaSnapshot{Source: outreach.SourceApify, Err: errors.New("db down")})
	server := NewServer(svc, nil, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/outreach/quota?source=apify", nil))

	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"can_send":false`)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestServer_Lifecycle(t *testing.T) {
	t.Parallel()

	server, store := newIntegrationServer(t, config.Config{})
	store.Seed(outreach.Record{
		ID: "rec-1", Phone: "+525500000001", Source: outreach.SourceApify, SentAt: testNow, Status: outreach.StatusSent,
	})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/outreach/records/rec-1/replied", bytes.NewBufferString(`{"response_text":"Sí, me interesa"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/outreach/records/rec-1/converted", bytes.NewBufferString(`{"value":1200.5}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := store.Get(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, outreach.StatusReplied, got.Status)
	assert.True(t, got.Converted)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/outreach/records/missing/replied", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/outreach/records/rec-1/converted", bytes.NewBufferString(`{"value":-3}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LifecycleBackendError(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.On("MarkConverted", mock.Anything, "rec-1", (*float64)(nil)).Return(errors.New("timeout"))
	server := NewServer(svc, nil, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/v1/outreach/records/rec-1/converted", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	svc.AssertExpectations(t)
}

func TestServer_ReloadSettings(t *testing.T) {
	t.Parallel()

	limit := 75
	src := memory.NewSettingsStore(outreach.RemoteSettings{DailyLimit: &limit})
	loader := outreach.NewSettingsLoader(src, outreach.DefaultSettings(), nil)
	server := NewServer(&mockService{}, loader, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outreach/settings/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 75, loader.Current().DailyLimitGlobal)

	src.SetError(errors.New("settings table missing"))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outreach/settings/reload", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 75, loader.Current().DailyLimitGlobal)

	noReload := NewServer(&mockService{}, nil, nil, config.Config{}, zap.NewNop())
	rec = httptest.NewRecorder()
	noReload.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outreach/settings/reload", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_NormalizePhone(t *testing.T) {
	t.Parallel()

	server := NewServer(&mockService{}, nil, nil, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/phone/normalize?phone=%2B44+20+7946+0958", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp normalizeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "+442079460958", resp.Normalized)
	assert.True(t, resp.Valid)
	assert.Equal(t, "44", resp.CountryCode)
	assert.Equal(t, "en", string(resp.Language))

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/phone/normalize", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	healthy := NewServer(&mockService{}, nil, func(context.Context) error { return nil }, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	healthy.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(&mockService{}, nil, func(context.Context) error { return errors.New("db unreachable") },
		config.Config{}, zap.NewNop())
	rec = httptest.NewRecorder()
	down.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&mockService{}, nil, nil, config.Config{}, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}}
	server := NewServer(&mockService{}, nil, nil, cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/phone/normalize?phone=5512345678", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/phone/normalize?phone=5512345678", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open for the orchestrator.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&mockService{}, nil, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.True(t, uuid.Valid(rec.Header().Get("X-Request-ID")))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-123")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	svc := &mockService{}
	svc.On("Send", mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	server := NewServer(svc, nil, nil, config.Config{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outreach/send",
		bytes.NewBufferString(`{"phone":"5512345678","source":"manual"}`)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type mockService struct {
	mock.Mock
}

func (m *mockService) Send(ctx context.Context, req outreach.SendRequest) outreach.Result {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(outreach.Result)
	return res
}

func (m *mockService) CheckQuota(ctx context.Context, source outreach.Source) outreach.QuotaSnapshot {
	args := m.Called(ctx, source)
	snap, _ := args.Get(0).(outreach.QuotaSnapshot)
	return snap
}

func (m *mockService) MarkReplied(ctx context.Context, id, responseText string) error {
	return m.Called(ctx, id, responseText).Error(0)
}

func (m *mockService) MarkConverted(ctx context.Context, id string, value *float64) error {
	return m.Called(ctx, id, value).Error(0)
}

func newIntegrationServer(t *testing.T, cfg config.Config) (*Server, *memory.OutreachStore) {
	t.Helper()
	store := memory.NewOutreachStore()
	clk := fake.New(testNow)
	tracker := outreach.NewQuotaTracker(store, outreach.StaticSettings(outreach.DefaultSettings()), clk, time.UTC, nil)
	svc, err := outreach.NewService(outreach.ServiceOptions{
		Store:    store,
		Quota:    tracker,
		Dedup:    outreach.NewDedupGuard(store, false, nil),
		Composer: message.NewComposer(),
		Launcher: message.NewLauncher(),
		Clock:    clk,
		IDs:      uuid.NewUUIDGenerator(),
	})
	require.NoError(t, err)
	return NewServer(svc, nil, nil, cfg, zap.NewNop()), store
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
