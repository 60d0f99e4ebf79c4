package handler

import (
	"net/http"
	"strconv"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/service"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type staffHandler struct {
	moderation   *service.ModerationEngine
	auditService *service.AuditService
}

func NewStaffHandler(moderation *service.ModerationEngine, auditService *service.AuditService) *staffHandler {
	return &staffHandler{
		moderation:   moderation,
		auditService: auditService,
	}
}

type extendRequest struct {
	// Months to add, or -1 for a subscription that never lapses.
	Months int `json:"months"`
}

type shadowRequest struct {
	Username   string `json:"username"`
	RedirectTo string `json:"redirectTo"`
}

type auditEntryView struct {
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

func (h *staffHandler) Account(w http.ResponseWriter, r *http.Request) {
	account, credential, err := h.moderation.Lookup(r.Context(), ctxkeys.Account(r.Context()), r.PathValue("username"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account, credential))
}

func (h *staffHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var edits map[string]string
	if !decode(w, r, &edits) {
		return
	}

	applied, err := h.moderation.ApplyEdit(r.Context(), ctxkeys.Account(r.Context()), r.PathValue("username"), edits)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied})
}

// Action runs verify, unverify, promote, demote, suspend or unsuspend.
func (h *staffHandler) Action(w http.ResponseWriter, r *http.Request) {
	action := service.Action(r.PathValue("action"))
	if action == service.ActionDelete {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "use DELETE to remove an account", Kind: service.KindValidation.String()})
		return
	}

	err := h.moderation.Perform(r.Context(), ctxkeys.Account(r.Context()), r.PathValue("username"), action)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *staffHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.moderation.Delete(r.Context(), ctxkeys.Account(r.Context()), r.PathValue("username"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *staffHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.moderation.ExtendSubscription(r.Context(), ctxkeys.Account(r.Context()), r.PathValue("username"), req.Months)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *staffHandler) CreateShadow(w http.ResponseWriter, r *http.Request) {
	var req shadowRequest
	if !decode(w, r, &req) {
		return
	}

	shadow, err := h.moderation.CreateShadow(r.Context(), ctxkeys.Account(r.Context()), req.Username, req.RedirectTo)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shadowRequest{Username: shadow.Username, RedirectTo: shadow.RedirectTarget()})
}

// Audit lists recent entries, newest first. ?limit= caps the count.
func (h *staffHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive number", Kind: service.KindValidation.String()})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.auditService.Recent(r.Context(), limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuditView(entries))
}

func newAuditView(entries []model.AuditEntry) []auditEntryView {
	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			Message:   e.Message,
			CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return views
}
