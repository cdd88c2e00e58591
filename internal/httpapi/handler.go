package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	v1 "parley/contracts/interview/v1"
	"parley/internal/interview"
	"parley/internal/invite"
	"parley/internal/metrics"
	"parley/internal/ratelimit"
)

const maxExchangeBodyBytes = 8 << 10

// Handler exposes the token-exchange endpoint.
type Handler struct {
	log     *slog.Logger
	ex      *invite.Exchanger
	limiter *ratelimit.Limiter
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, ex *invite.Exchanger, limiter *ratelimit.Limiter) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if ex == nil || limiter == nil {
		return nil, errors.New("httpapi: exchanger and limiter are required")
	}
	return &Handler{log: log, ex: ex, limiter: limiter}, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/interviews/token-exchange", h.handleTokenExchange)
}

type exchangeRequest struct {
	// Exactly one of the two forms:
	// first exchange spends an invite,
	InviteToken string `json:"invite_token,omitempty"`
	// a reconnect grant re-credentials an existing session.
	SessionID string `json:"session_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

type exchangeResponse struct {
	SessionID  string `json:"session_id"`
	Credential string `json:"credential"`
	ExpiresAt  string `json:"expires_at"`
}

func (h *Handler) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()

	id := ratelimit.ClientIdentifier(r)
	dec := h.limiter.Check(ratelimit.ClassExchange, id, now)
	setRateHeaders(w, dec)
	if !dec.Allowed {
		retry := dec.ResetAt.Sub(now)
		if retry > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(retry.Seconds()+0.999), 10))
		}
		metrics.ExchangeOutcomes.WithLabelValues("rate_limited").Inc()
		writeError(w, http.StatusTooManyRequests, v1.CodeRateLimited, "too many exchange attempts")
		return
	}

	var req exchangeRequest
	if err := decodeJSON(w, r, maxExchangeBodyBytes, &req); err != nil {
		metrics.ExchangeOutcomes.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	hasInvite := strings.TrimSpace(req.InviteToken) != ""
	hasSession := strings.TrimSpace(req.SessionID) != ""
	if hasInvite == hasSession {
		metrics.ExchangeOutcomes.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "provide either invite_token or session_id+subject")
		return
	}

	var (
		grant invite.Grant
		err   error
	)
	if hasInvite {
		grant, err = h.ex.Exchange(r.Context(), req.InviteToken, now)
	} else {
		if strings.TrimSpace(req.Subject) == "" {
			metrics.ExchangeOutcomes.WithLabelValues("bad_request").Inc()
			writeError(w, http.StatusBadRequest, "bad_request", "subject is required for reconnect")
			return
		}
		grant, err = h.ex.GrantReconnect(r.Context(), req.SessionID, req.Subject, now)
	}
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}

	metrics.ExchangeOutcomes.WithLabelValues("granted").Inc()
	writeJSON(w, http.StatusOK, exchangeResponse{
		SessionID:  grant.SessionID,
		Credential: grant.Credential,
		ExpiresAt:  grant.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeExchangeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		metrics.ExchangeOutcomes.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, v1.CodeCredentialNotFound, "invite not found")
	case errors.Is(err, invite.ErrUsed):
		metrics.ExchangeOutcomes.WithLabelValues("used").Inc()
		writeError(w, http.StatusConflict, v1.CodeCredentialUsed, "invite already used")
	case errors.Is(err, invite.ErrExpired):
		metrics.ExchangeOutcomes.WithLabelValues("expired").Inc()
		writeError(w, http.StatusGone, v1.CodeCredentialExpired, "invite expired")
	case errors.Is(err, interview.ErrSessionNotFound):
		metrics.ExchangeOutcomes.WithLabelValues("session_not_found").Inc()
		writeError(w, http.StatusNotFound, v1.CodeSessionNotFound, "no such session")
	case errors.Is(err, interview.ErrSessionTerminal):
		metrics.ExchangeOutcomes.WithLabelValues("session_terminal").Inc()
		writeError(w, http.StatusGone, v1.CodeSessionTerminal, "session is finished")
	case errors.Is(err, invite.ErrInvalidInput):
		metrics.ExchangeOutcomes.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request")
	default:
		h.log.Error("exchange.fail", "err", err)
		metrics.ExchangeOutcomes.WithLabelValues("internal").Inc()
		writeError(w, http.StatusInternalServerError, v1.CodeInternal, "internal error")
	}
}

// setRateHeaders attaches limit metadata on every response, allowed or not.
func setRateHeaders(w http.ResponseWriter, dec ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
}
