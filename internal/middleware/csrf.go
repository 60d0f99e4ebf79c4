package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/handler"
	"github.com/templui/linkpage/internal/service"
)

const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	csrfHeader     = "X-CSRF-Token"
	csrfTokenLen   = 32
)

// csrfExempt lists endpoints called by external services instead of browsers.
var csrfExempt = map[string]bool{
	"/billing/webhook": true,
}

// CSRFProtection validates the double-submit token on state-changing requests.
// Safe requests receive the current token in the X-CSRF-Token response header
// so API clients can echo it back.
func CSRFProtection(isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if csrfExempt[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			token := getOrGenerateCSRFToken(w, r, isProduction)
			ctx := ctxkeys.WithCSRFToken(r.Context(), token)

			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				w.Header().Set(csrfHeader, token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			// Header first, then form field for multipart uploads
			submittedToken := r.Header.Get(csrfHeader)
			if submittedToken == "" && strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				submittedToken = r.PostFormValue(csrfFormField)
			}

			if !validCSRFToken(token, submittedToken) {
				slog.Warn("csrf validation failed",
					"path", r.URL.Path,
					"method", r.Method,
					"ip", getClientIP(r),
				)
				handler.WriteError(w, r, service.ErrCSRF)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// getOrGenerateCSRFToken retrieves existing token or generates new one
func getOrGenerateCSRFToken(w http.ResponseWriter, r *http.Request, isProduction bool) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err == nil && cookie.Value != "" && len(cookie.Value) == base64.RawURLEncoding.EncodedLen(csrfTokenLen) {
		return cookie.Value
	}

	token := generateCSRFToken()

	// Set cookie with SameSite=Lax for CSRF protection
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction, // Secure flag based on APP_ENV (safer than r.TLS behind load balancers)
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400 * 7, // 7 days
	})

	return token
}

// generateCSRFToken creates cryptographically secure random token
func generateCSRFToken() string {
	bytes := make([]byte, csrfTokenLen)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("failed to generate csrf token: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}

// validCSRFToken performs constant-time comparison of tokens
func validCSRFToken(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
