package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"flightplan-gateway/internal/apperr"
	"flightplan-gateway/internal/cache"
	"flightplan-gateway/internal/models"
	"flightplan-gateway/internal/session"
)

type failingCounter struct{}

func (failingCounter) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

type stubResolver struct {
	sc  *session.Context
	err error
	got session.Credentials
}

func (s *stubResolver) Resolve(_ context.Context, creds session.Credentials) (*session.Context, error) {
	s.got = creds
	return s.sc, s.err
}

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body["code"]
}

func mustProxies(t *testing.T, entries ...string) *TrustedProxies {
	t.Helper()
	p, err := ParseTrustedProxies(entries)
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	return p
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(cache.NewMemory(), mustProxies(t, "172.16.0.0/12"), "sign-in", 2, time.Minute)(http.HandlerFunc(ok))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
		r.RemoteAddr = "172.16.0.1:4000"
		r.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.2")
		h.ServeHTTP(rec, r)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected pass, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
	r.RemoteAddr = "172.16.0.1:4000"
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if code := decodeCode(t, rec); code != "RATE_LIMITED" {
		t.Fatalf("unexpected code %q", code)
	}

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
	r.RemoteAddr = "192.0.2.7:4000"
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other clients must not be limited, got %d", rec.Code)
	}
}

func TestRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	h := RateLimit(cache.NewMemory(), nil, "sign-in", 2, time.Minute)(http.HandlerFunc(ok))

	passed := 0
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
		r.RemoteAddr = "198.51.100.9:5000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		r.Header.Set("X-Real-IP", fmt.Sprintf("203.0.114.%d", i))
		h.ServeHTTP(rec, r)
		if rec.Code == http.StatusNoContent {
			passed++
		}
	}
	if passed != 2 {
		t.Fatalf("expected 2 attempts to pass, got %d", passed)
	}

	trusted := RateLimit(cache.NewMemory(), mustProxies(t, "10.0.0.0/8"), "sign-in", 2, time.Minute)(http.HandlerFunc(ok))
	passed = 0
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/auth/sign-in", nil)
		r.RemoteAddr = "10.0.0.2:5000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d, 198.51.100.9", i))
		trusted.ServeHTTP(rec, r)
		if rec.Code == http.StatusNoContent {
			passed++
		}
	}
	if passed != 2 {
		t.Fatalf("client-supplied hops must not reset the count behind a proxy, %d passed", passed)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(failingCounter{}, nil, "sign-in", 1, time.Minute)(http.HandlerFunc(ok))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected fail-open, got %d", rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		proxies *TrustedProxies
		remote  string
		xff     []string
		xri     string
		want    string
	}{
		{"peer only", nil, "192.0.2.1:1234", nil, "", "192.0.2.1"},
		{"untrusted peer ignores headers", nil, "192.0.2.1:1234", []string{"203.0.113.5"}, "198.51.100.2", "192.0.2.1"},
		{"trusted peer real ip", mustProxies(t, "192.0.2.1"), "192.0.2.1:1234", nil, "198.51.100.2", "198.51.100.2"},
		{"rightmost untrusted hop", mustProxies(t, "10.0.0.0/8"), "10.0.0.1:80", []string{"1.1.1.1, 203.0.113.5, 10.0.0.7"}, "", "203.0.113.5"},
		{"hops across headers", mustProxies(t, "10.0.0.0/8"), "10.0.0.1:80", []string{"1.1.1.1", "203.0.113.5"}, "", "203.0.113.5"},
		{"all hops trusted", mustProxies(t, "10.0.0.0/8"), "10.0.0.1:80", []string{"10.1.1.1, 10.2.2.2"}, "", "10.1.1.1"},
		{"ipv6 peer", mustProxies(t, "::1"), "[::1]:80", []string{"2001:db8::5"}, "", "2001:db8::5"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		for _, v := range tt.xff {
			r.Header.Add("X-Forwarded-For", v)
		}
		if tt.xri != "" {
			r.Header.Set("X-Real-IP", tt.xri)
		}
		if got := tt.proxies.ClientIP(r); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestParseTrustedProxies(t *testing.T) {
	p, err := ParseTrustedProxies([]string{" 10.0.0.0/8 ", "", "192.0.2.4"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !p.trusts("10.200.1.1") || !p.trusts("192.0.2.4") || p.trusts("192.0.2.5") {
		t.Fatal("unexpected trust decisions")
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected an error for an invalid entry")
	}
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected an error for an invalid prefix")
	}
}

func TestAuthenticate(t *testing.T) {
	principal := &session.Context{User: &models.User{ID: "u1"}}
	resolver := &stubResolver{sc: principal}
	var seen *session.Context
	h := Authenticate(resolver, "fp_")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer fp_abc")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if seen != principal || resolver.got.APIKey != "fp_abc" {
		t.Fatalf("expected principal on context, got %+v creds %+v", seen, resolver.got)
	}

	seen = nil
	resolver.got = session.Credentials{}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen != nil || !resolver.got.Empty() {
		t.Fatal("anonymous request should not be resolved")
	}
}

func TestAuthenticateUnavailable(t *testing.T) {
	resolver := &stubResolver{err: apperr.Unavailable("load session", errors.New("db down"))}
	h := Authenticate(resolver, "fp_")(http.HandlerFunc(ok))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "token"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := decodeCode(t, rec); code != "UNAVAILABLE" {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestRequireSession(t *testing.T) {
	h := RequireSession(http.HandlerFunc(ok))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || decodeCode(t, rec) != "UNAUTHENTICATED" {
		t.Fatalf("expected 401 UNAUTHENTICATED, got %d", rec.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(session.WithContext(r.Context(), &session.Context{User: &models.User{ID: "u1"}}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(http.HandlerFunc(ok))
	r := httptest.NewRequest(http.MethodOptions, "/v1/organizations", nil)
	r.Header.Set("Origin", "https://app.example.com")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials to be allowed for an explicit origin")
	}
}
