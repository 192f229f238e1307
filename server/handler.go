// Package server exposes the gatekeeper over HTTP and reports liveness over
// the gRPC health protocol.
package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/toolink/callgate/gatekeeper"
	"github.com/toolink/callgate/meta"
	"github.com/toolink/callgate/session"
)

// CookieConfig controls the session proof cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	TTL    time.Duration // zero means a browser-session cookie
}

// RouterConfig wires the HTTP routes.
type RouterConfig struct {
	Gatekeeper *gatekeeper.Gatekeeper
	Sessions   session.Issuer
	Cookie     CookieConfig
	// TrustProxy makes X-Forwarded-For and X-Real-IP decide the client identity.
	TrustProxy bool
}

type tokenResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
	TTL      int    `json:"ttl"` // seconds
}

type handler struct {
	gk       *gatekeeper.Gatekeeper
	sessions session.Issuer
	cookie   CookieConfig
}

// NewRouter builds the HTTP handler.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Gatekeeper == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("gatekeeper and session issuer are required")
	}
	if ttl := cfg.Gatekeeper.TTL(); ttl%time.Second != 0 {
		return nil, fmt.Errorf("credential ttl %s must be a whole number of seconds", ttl)
	}
	if cfg.Cookie.Name == "" {
		return nil, fmt.Errorf("session cookie name is required")
	}
	h := &handler{gk: cfg.Gatekeeper, sessions: cfg.Sessions, cookie: cfg.Cookie}

	r := chi.NewRouter()
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(requestMeta)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/session", h.issueSession)
	r.Get("/token", h.issueToken)
	r.Get("/debug/stats", h.stats)
	return r, nil
}

// requestMeta attaches request metadata and logs each completed request.
func requestMeta(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := meta.NewRequest(ClientIdentity(r))
		ctx := info.WithContext(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-Id", info.ID)

		next.ServeHTTP(ww, r.WithContext(ctx))

		meta.Logger(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", info.Elapsed()).
			Msg("request handled")
	})
}

func (h *handler) issueSession(w http.ResponseWriter, r *http.Request) {
	identity := ClientIdentity(r)
	proof, err := h.sessions.Issue(identity)
	if err != nil {
		meta.Logger(r.Context()).Error().Err(err).Msg("failed to issue session proof")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	cookie := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    proof,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	if h.cookie.TTL > 0 {
		cookie.MaxAge = int(h.cookie.TTL / time.Second)
		cookie.Expires = time.Now().Add(h.cookie.TTL)
	}
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) issueToken(w http.ResponseWriter, r *http.Request) {
	identity := ClientIdentity(r)
	var proof string
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		proof = c.Value
	}

	out, err := h.gk.AuthorizeIssuance(r.Context(), identity, proof)
	if err != nil {
		h.writeRejection(w, err)
		return
	}

	ttl := int(out.TTL / time.Second)
	w.Header().Set("Cache-Control", "private, max-age="+strconv.Itoa(ttl))
	writeJSON(w, http.StatusOK, tokenResponse{Token: out.Credential, Identity: out.Identity, TTL: ttl})
}

func (h *handler) writeRejection(w http.ResponseWriter, err error) {
	w.Header().Set("Cache-Control", "no-store")

	switch {
	case errors.Is(err, gatekeeper.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "session required")
	case errors.Is(err, gatekeeper.ErrIdentityQuotaExceeded), errors.Is(err, gatekeeper.ErrGlobalQuotaExceeded):
		if retry, ok := gatekeeper.RetryAfter(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry)))
		}
		if errors.Is(err, gatekeeper.ErrIdentityQuotaExceeded) {
			writeError(w, http.StatusTooManyRequests, "identity quota exceeded")
		} else {
			writeError(w, http.StatusTooManyRequests, "service is busy, try again shortly")
		}
	case errors.Is(err, gatekeeper.ErrQuotaUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		// issuer details stay in the logs
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.gk.Stats().Snapshot())
}

// retryAfterSeconds rounds up to whole seconds, minimum 1.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
