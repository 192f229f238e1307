package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/toolink/callgate/gatekeeper"
	"github.com/toolink/callgate/issuer"
	"github.com/toolink/callgate/limiter"
	"github.com/toolink/callgate/session"
)

const cookieName = "callgate_session"

type testEnv struct {
	router   http.Handler
	gk       *gatekeeper.Gatekeeper
	issueErr error
}

func newTestEnv(t *testing.T, identityLimit, globalLimit int, trustProxy bool) *testEnv {
	t.Helper()
	env := &testEnv{}

	binder, err := session.NewSignedBinder([]byte("0123456789abcdef0123456789abcdef"), session.WithTTL(time.Hour))
	if err != nil {
		t.Fatalf("binder: %v", err)
	}
	store := limiter.NewMemoryStore()
	identity, _ := limiter.NewTier(limiter.TierIdentity, identityLimit, time.Hour, store)
	global, _ := limiter.NewTier(limiter.TierGlobal, globalLimit, time.Hour, store)

	env.gk, err = gatekeeper.New(gatekeeper.Config{
		Sessions:      binder,
		IdentityQuota: identity,
		GlobalQuota:   global,
		Issuer: issuer.Func(func(_ context.Context, id string, _ time.Duration) (string, error) {
			if env.issueErr != nil {
				return "", env.issueErr
			}
			return "voice-" + id, nil
		}),
		TTL: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("gatekeeper: %v", err)
	}

	env.router, err = NewRouter(RouterConfig{
		Gatekeeper: env.gk,
		Sessions:   binder,
		Cookie:     CookieConfig{Name: cookieName, Secure: true, TTL: time.Hour},
		TrustProxy: trustProxy,
	})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return env
}

func (e *testEnv) do(remoteAddr, path string, cookie *http.Cookie, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header[k] = v
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) session(t *testing.T, remoteAddr string) *http.Cookie {
	t.Helper()
	rec := e.do(remoteAddr, "/session", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from /session, got %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no session cookie set")
	return nil
}

func TestSession_SetsHardenedCookie(t *testing.T) {
	env := newTestEnv(t, 10, 5, false)
	c := env.session(t, "10.0.0.5:4000")

	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
		t.Fatalf("cookie not hardened: %+v", c)
	}
	if c.MaxAge != 3600 {
		t.Fatalf("expected max-age 3600, got %d", c.MaxAge)
	}
}

func TestToken_IssuesForBoundSession(t *testing.T) {
	env := newTestEnv(t, 10, 5, false)
	c := env.session(t, "10.0.0.5:4000")

	rec := env.do("10.0.0.5:4001", "/token", c, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=3" {
		t.Fatalf("unexpected Cache-Control %q", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request id header")
	}

	var body tokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Token != "voice-10.0.0.5" || body.Identity != "10.0.0.5" || body.TTL != 3 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestToken_Rejections(t *testing.T) {
	env := newTestEnv(t, 1, 5, false)
	c := env.session(t, "10.0.0.5:4000")

	if rec := env.do("10.0.0.5:4000", "/token", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie: expected 401, got %d", rec.Code)
	}
	if rec := env.do("10.0.0.9:4000", "/token", c, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("borrowed cookie: expected 401, got %d", rec.Code)
	}

	if rec := env.do("10.0.0.5:4000", "/token", c, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := env.do("10.0.0.5:4000", "/token", c, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3600" {
		t.Fatalf("expected Retry-After 3600, got %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("rejections must not be cached, got %q", got)
	}
}

func TestToken_GlobalQuota(t *testing.T) {
	env := newTestEnv(t, 10, 1, false)
	a := env.session(t, "10.0.0.1:1")
	b := env.session(t, "10.0.0.2:1")

	if rec := env.do("10.0.0.1:1", "/token", a, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec := env.do("10.0.0.2:1", "/token", b, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
}

func TestToken_IssuerFailureHidesDetails(t *testing.T) {
	env := newTestEnv(t, 10, 5, false)
	env.issueErr = errors.New("twilio said: account suspended")
	c := env.session(t, "10.0.0.5:4000")

	rec := env.do("10.0.0.5:4000", "/token", c, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "internal error" {
		t.Fatalf("issuer details leaked: %q", body.Error)
	}
}

func TestIdentity_ForwardedHeadersOnlyWhenTrusted(t *testing.T) {
	spoof := http.Header{"X-Forwarded-For": {"10.9.9.9"}}

	untrusted := newTestEnv(t, 10, 5, false)
	c := untrusted.session(t, "10.0.0.5:4000")
	// the proof is bound to the socket address, not the header
	if rec := untrusted.do("10.0.0.5:4000", "/token", c, spoof); rec.Code != http.StatusOK {
		t.Fatalf("untrusted: expected 200, got %d", rec.Code)
	}

	trusted := newTestEnv(t, 10, 5, true)
	c = trusted.session(t, "127.0.0.1:4000")
	if rec := trusted.do("127.0.0.1:4000", "/token", c, spoof); rec.Code != http.StatusUnauthorized {
		t.Fatalf("trusted: expected the forwarded identity to be used, got %d", rec.Code)
	}
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, 10, 5, false)
	env.do("10.0.0.5:1", "/token", nil, nil)

	rec := env.do("10.0.0.5:1", "/debug/stats", nil, nil)
	var snap map[string]int64
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap[string(gatekeeper.OutcomeRejectedUnauthorized)] != 1 {
		t.Fatalf("unexpected stats: %v", snap)
	}

	if rec := env.do("10.0.0.5:1", "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		24 * time.Hour:          86400,
	}
	for d, want := range cases {
		if got := retryAfterSeconds(d); got != want {
			t.Fatalf("retryAfterSeconds(%s) = %d, want %d", d, got, want)
		}
	}
}

func TestNewRouter_RejectsFractionalTTL(t *testing.T) {
	binder := session.NewStatefulBinder()
	store := limiter.NewMemoryStore()
	tier, _ := limiter.NewTier(limiter.TierIdentity, 1, time.Second, store)

	for _, ttl := range []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond} {
		gk, err := gatekeeper.New(gatekeeper.Config{
			Sessions:      binder,
			IdentityQuota: tier,
			GlobalQuota:   tier,
			Issuer: issuer.Func(func(context.Context, string, time.Duration) (string, error) {
				return "x", nil
			}),
			TTL: ttl,
		})
		if err != nil {
			t.Fatalf("gatekeeper: %v", err)
		}
		_, err = NewRouter(RouterConfig{Gatekeeper: gk, Sessions: binder, Cookie: CookieConfig{Name: cookieName}})
		if err == nil {
			t.Fatalf("ttl %s: expected router to refuse a ttl it cannot report exactly", ttl)
		}
	}
}
