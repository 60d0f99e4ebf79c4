package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/model"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(ok), mark("first"), mark("second"), mark("third"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestAttemptLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	l := newAttemptLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.2.3.4"))
	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"))

	// the first attempt leaves the window
	now = now.Add(31 * time.Second)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"))

	now = now.Add(2 * time.Minute)
	l.sweep()
	assert.Empty(t, l.attempts)
}

func TestAttemptLimiterSweepKeepsRecent(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	l := newAttemptLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("alice")
	now = now.Add(45 * time.Second)
	l.Allow("alice")
	now = now.Add(30 * time.Second)
	l.sweep()

	assert.Len(t, l.attempts["alice"], 1)
	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
}

func TestRateLimitAuth(t *testing.T) {
	h := RateLimitAuth(1)(ok)

	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	w := httptest.NewRecorder()
	h(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h(w, r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestRateLimitAuthPerAccount(t *testing.T) {
	var seen []string
	h := RateLimitAuth(2)(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seen = append(seen, body.Identifier)
		w.WriteHeader(http.StatusOK)
	})
	login := func(ip, identifier string) int {
		r := httptest.NewRequest(http.MethodPost, "/auth/login",
			strings.NewReader(`{"identifier":"`+identifier+`","password":"x"}`))
		r.RemoteAddr = ip + ":40000"
		w := httptest.NewRecorder()
		h(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, login("192.0.2.1", "alice"))
	assert.Equal(t, http.StatusOK, login("192.0.2.2", " Alice "))
	// a third address does not buy more guesses at alice
	assert.Equal(t, http.StatusTooManyRequests, login("192.0.2.3", "ALICE"))
	assert.Equal(t, http.StatusOK, login("192.0.2.3", "bob@example.com"))
	// the per-IP budget still applies across accounts
	assert.Equal(t, http.StatusTooManyRequests, login("192.0.2.3", "carol"))

	assert.Equal(t, []string{"alice", " Alice ", "bob@example.com"}, seen)
}

func TestAuthTarget(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/auth/reset", strings.NewReader(`{"email":" Bob@Example.com "}`))
	assert.Equal(t, "bob@example.com", authTarget(r))
	rest, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":" Bob@Example.com "}`, string(rest))

	r = httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"username":"Carol","email":"","password":"x"}`))
	assert.Equal(t, "carol", authTarget(r))

	r = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`not json`))
	assert.Empty(t, authTarget(r))

	r = httptest.NewRequest(http.MethodGet, "/auth/verify/abc", nil)
	assert.Empty(t, authTarget(r))

	r = httptest.NewRequest(http.MethodPost, "/auth/verify/resend", nil)
	r = r.WithContext(ctxkeys.WithAccount(r.Context(), model.NewAccount("dave", model.LevelAwaitingVerification, time.Now())))
	assert.Equal(t, "dave", authTarget(r))
}

func TestRateLimitAuthDisabled(t *testing.T) {
	h := RateLimitAuth(0)(ok)
	for range 10 {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5000"
	assert.Equal(t, "192.0.2.1", getClientIP(r))
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", getClientIP(r))

	r.Header.Set("X-Real-IP", " 198.51.100.7 ")
	assert.Equal(t, "198.51.100.7", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(r))
}

func TestCSRFProtection(t *testing.T) {
	var seen string
	h := CSRFProtection(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxkeys.CSRFToken(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	token := w.Header().Get(csrfHeader)
	require.NotEmpty(t, token)
	assert.Equal(t, token, seen)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, csrfCookieName, cookies[0].Name)
	assert.False(t, cookies[0].Secure)

	post := func(header string) int {
		r := httptest.NewRequest(http.MethodPost, "/account/profile", strings.NewReader(`{}`))
		r.AddCookie(cookies[0])
		if header != "" {
			r.Header.Set(csrfHeader, header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, post(token))
	assert.Equal(t, http.StatusForbidden, post(""))
	assert.Equal(t, http.StatusForbidden, post(strings.ToUpper(token)+"x"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(false)(http.HandlerFunc(ok)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))

	w = httptest.NewRecorder()
	SecurityHeaders(true)(http.HandlerFunc(ok)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestRequireGuards(t *testing.T) {
	account := func(level model.VerificationLevel) *model.Account {
		return model.NewAccount("alice", level, time.Now())
	}

	tests := []struct {
		name    string
		guard   func(http.HandlerFunc) http.HandlerFunc
		account *model.Account
		want    int
	}{
		{"auth anonymous", RequireAuth, nil, http.StatusUnauthorized},
		{"auth awaiting", RequireAuth, account(model.LevelAwaitingVerification), http.StatusOK},
		{"auth suspended", RequireAuth, account(model.LevelSuspended), http.StatusForbidden},
		{"verified awaiting", RequireVerified, account(model.LevelAwaitingVerification), http.StatusForbidden},
		{"verified member", RequireVerified, account(model.LevelMember), http.StatusOK},
		{"staff anonymous", RequireStaff, nil, http.StatusUnauthorized},
		{"staff member", RequireStaff, account(model.LevelVerified), http.StatusForbidden},
		{"staff staff", RequireStaff, account(model.LevelStaff), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/account", nil)
			if tt.account != nil {
				r = r.WithContext(ctxkeys.WithAccount(r.Context(), tt.account))
			}
			w := httptest.NewRecorder()
			tt.guard(ok)(w, r)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequestLoggingCapturesStatus(t *testing.T) {
	w := httptest.NewRecorder()
	RequestLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/account", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
