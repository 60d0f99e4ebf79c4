package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/templui/linkpage/internal/service"
)

type publicHandler struct {
	accountService *service.AccountService
	ping           func(ctx context.Context) error
}

// NewPublicHandler serves profile pages and the health check. ping reports
// database reachability.
func NewPublicHandler(accountService *service.AccountService, ping func(ctx context.Context) error) *publicHandler {
	return &publicHandler{
		accountService: accountService,
		ping:           ping,
	}
}

// Profile serves /u/{username}. Shadow accounts redirect to their target.
func (h *publicHandler) Profile(w http.ResponseWriter, r *http.Request) {
	account, redirectTo, err := h.accountService.PublicProfile(r.Context(), r.PathValue("username"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if redirectTo != "" {
		http.Redirect(w, r, "/u/"+url.PathEscape(redirectTo), http.StatusMovedPermanently)
		return
	}
	writeJSON(w, http.StatusOK, newProfileView(account))
}

func (h *publicHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		err := h.ping(ctx)
		if err != nil {
			slog.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Kind: service.KindNotFound.String()})
}
