package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/handler"
	"github.com/templui/linkpage/internal/service"
)

// AuthMiddleware resolves the session cookie to an account and adds it to the context.
// Requests without a valid session continue anonymously. A suspended account is
// rejected outright.
func AuthMiddleware(sessionService *service.SessionService, accountService *service.AccountService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(service.SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			username, err := sessionService.Verify(cookie.Value)
			if err != nil {
				sessionService.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			account, err := accountService.Authorize(r.Context(), username)
			if errors.Is(err, service.ErrAccountSuspended) {
				slog.Warn("suspended account rejected", "username", username, "path", r.URL.Path)
				sessionService.ClearCookie(w)
				handler.WriteError(w, r, err)
				return
			}
			if err != nil {
				// Renamed or deleted since the token was issued
				sessionService.ClearCookie(w)
				next.ServeHTTP(w, r)
				return
			}

			ctx := ctxkeys.WithAccount(r.Context(), account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth ensures a signed-in account. Accounts still awaiting email
// verification pass.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.CheckAuthenticated(ctxkeys.Account(r.Context()))
		if err != nil {
			handler.WriteError(w, r, err)
			return
		}
		next(w, r)
	}
}

// RequireVerified ensures the account may use self-service features.
func RequireVerified(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.CheckSelfService(ctxkeys.Account(r.Context()))
		if err != nil {
			handler.WriteError(w, r, err)
			return
		}
		next(w, r)
	}
}

func RequireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := service.CheckStaff(ctxkeys.Account(r.Context()))
		if err != nil {
			handler.WriteError(w, r, err)
			return
		}
		next(w, r)
	}
}
