package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/language"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/phone"
)

const maxBodyBytes = 64 << 10

func (s *Server) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	res := s.service.Send(r.Context(), outreach.SendRequest{
		Contact: outreach.Contact{
			Phone:    req.Phone,
			Name:     req.Name,
			Company:  req.Company,
			Language: language.Language(req.Language),
		},
		Source:    outreach.Source(req.Source),
		UserAgent: r.UserAgent(),
	})
	status := statusForResult(res)
	if res.RetryAfter > 0 {
		secs := int(res.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, status, res)
}

func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	var source outreach.Source
	if raw := r.URL.Query().Get("source"); raw != "" {
		parsed, err := outreach.ParseSource(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = parsed
	}
	snap := s.service.CheckQuota(r.Context(), source)
	if snap.Err != nil {
		writeJSON(w, http.StatusBadGateway, quotaResponse{QuotaSnapshot: snap, Error: snap.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, quotaResponse{QuotaSnapshot: snap})
}

type quotaResponse struct {
	outreach.QuotaSnapshot
	Error string `json:"error,omitempty"`
}

func (s *Server) markReplied(w http.ResponseWriter, r *http.Request) {
	var req repliedRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "record_id")
	if err := s.service.MarkReplied(r.Context(), id, req.ResponseText); err != nil {
		s.writeLifecycleError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"record_id": id, "status": string(outreach.StatusReplied)})
}

func (s *Server) markConverted(w http.ResponseWriter, r *http.Request) {
	var req convertedRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "record_id")
	if err := s.service.MarkConverted(r.Context(), id, req.Value); err != nil {
		s.writeLifecycleError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record_id": id, "converted": true})
}

func (s *Server) writeLifecycleError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, outreach.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	s.logger.Error("lifecycle update failed", zap.String("record_id", id), zap.Error(err))
	writeError(w, http.StatusBadGateway, err.Error())
}

func (s *Server) reloadSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings reload not configured")
		return
	}
	settings, err := s.settings.Load(r.Context())
	if err != nil {
		s.logger.Warn("settings reload failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "settings": settings})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

type normalizeResponse struct {
	Input       string            `json:"input"`
	Normalized  string            `json:"normalized"`
	Valid       bool              `json:"valid"`
	CountryCode string            `json:"country_code,omitempty"`
	Language    language.Language `json:"language"`
}

func (s *Server) normalizePhone(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("phone")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}
	normalized := phone.Normalize(raw)
	writeJSON(w, http.StatusOK, normalizeResponse{
		Input:       raw,
		Normalized:  normalized,
		Valid:       phone.IsValid(raw),
		CountryCode: phone.CountryCode(normalized),
		Language:    language.Detect(raw),
	})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusForResult maps orchestrator reasons to HTTP status codes.
func statusForResult(res outreach.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Reason {
	case outreach.ReasonInvalidPhone:
		return http.StatusUnprocessableEntity
	case outreach.ReasonInvalidSource:
		return http.StatusBadRequest
	case outreach.ReasonDailyLimit, outreach.ReasonCooldown, outreach.ReasonHourlyLimit:
		return http.StatusTooManyRequests
	case outreach.ReasonAlreadyContacted:
		return http.StatusConflict
	case outreach.ReasonRPCError, outreach.ReasonDispatchError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
