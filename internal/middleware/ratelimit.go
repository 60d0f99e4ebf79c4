package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/validation"
)

// maxPeekBytes bounds how much of an auth request body is buffered to find
// the submitted identifier. Auth payloads are a few hundred bytes.
const maxPeekBytes = 8 << 10

// attemptLimiter is a sliding-window counter keyed by client IP or by the
// account an auth request targets.
type attemptLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func newAttemptLimiter(limit int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records an attempt for key unless key already used up the window.
func (l *attemptLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.recent(key, now)
	if len(recent) >= l.limit {
		l.attempts[key] = recent
		return false
	}
	l.attempts[key] = append(recent, now)
	return true
}

func (l *attemptLimiter) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	kept := l.attempts[key][:0]
	for _, at := range l.attempts[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// sweep forgets keys with no attempt inside the window.
func (l *attemptLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.attempts {
		recent := l.recent(key, now)
		if len(recent) == 0 {
			delete(l.attempts, key)
			continue
		}
		l.attempts[key] = recent
	}
}

func (l *attemptLimiter) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		l.sweep()
	}
}

// RateLimitAuth allows perMinute attempts per client IP and, separately,
// perMinute attempts against any one account, so spreading a password guess
// over many addresses does not help. A non-positive limit disables it.
func RateLimitAuth(perMinute int) func(http.HandlerFunc) http.HandlerFunc {
	if perMinute <= 0 {
		return func(next http.HandlerFunc) http.HandlerFunc { return next }
	}
	byIP := newAttemptLimiter(perMinute, time.Minute)
	byAccount := newAttemptLimiter(perMinute, time.Minute)
	go byIP.sweepEvery(5 * time.Minute)
	go byAccount.sweepEvery(5 * time.Minute)

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			target := authTarget(r)

			allowed := byIP.Allow(ip)
			if allowed && target != "" {
				allowed = byAccount.Allow(target)
			}
			if !allowed {
				slog.Warn("rate limit exceeded", "ip", ip, "target", target, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
				writeTooManyRequests(w)
				return
			}

			next(w, r)
		}
	}
}

// authTarget names the account an auth request is aimed at: the signed-in
// account if there is one, else the identifier, email or username in the JSON
// body. The body is restored for the handler.
func authTarget(r *http.Request) string {
	if account := ctxkeys.Account(r.Context()); account != nil {
		return account.Username
	}
	if r.Body == nil || r.Method != http.MethodPost {
		return ""
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(raw), r.Body), r.Body}
	if err != nil {
		return ""
	}

	var fields struct {
		Identifier string `json:"identifier"`
		Email      string `json:"email"`
		Username   string `json:"username"`
	}
	if json.Unmarshal(raw, &fields) != nil {
		return ""
	}
	for _, value := range []string{fields.Identifier, fields.Email, fields.Username} {
		if strings.Contains(value, "@") {
			return validation.NormalizeEmail(value)
		}
		if value = validation.NormalizeUsername(value); value != "" {
			return value
		}
	}
	return ""
}

type readCloser struct {
	io.Reader
	io.Closer
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"too many requests, please try again later","kind":"rate_limited"}` + "\n"))
}
