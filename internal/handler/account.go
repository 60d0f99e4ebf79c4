package handler

import (
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/service"
	"github.com/templui/linkpage/internal/validation"
)

type accountHandler struct {
	accountService *service.AccountService
	sessionService *service.SessionService
}

func NewAccountHandler(accountService *service.AccountService, sessionService *service.SessionService) *accountHandler {
	return &accountHandler{
		accountService: accountService,
		sessionService: sessionService,
	}
}

type usernameRequest struct {
	Username string `json:"username"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type appliedResponse struct {
	Applied []string `json:"applied"`
}

func (h *accountHandler) Me(w http.ResponseWriter, r *http.Request) {
	account := ctxkeys.Account(r.Context())
	credential, err := h.accountService.Credential(r.Context(), account)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(account, credential))
}

// UpdateProfile applies a partial edit given as a field name to value object.
func (h *accountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var edits map[string]string
	if !decode(w, r, &edits) {
		return
	}

	applied, err := h.accountService.UpdateProfile(r.Context(), ctxkeys.Account(r.Context()), edits)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied})
}

func (h *accountHandler) ChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.accountService.ChangeEmail(r.Context(), ctxkeys.Account(r.Context()), req.Email)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeUsername renames the account and reissues the session, which is keyed by username.
func (h *accountHandler) ChangeUsername(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !decode(w, r, &req) {
		return
	}

	account := ctxkeys.Account(r.Context())
	err := h.accountService.ChangeUsername(r.Context(), account, req.Username)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	token, expiry, err := h.sessionService.Issue(account.Username)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sessionService.SetCookie(w, token, expiry)
	writeJSON(w, http.StatusOK, usernameRequest{Username: account.Username})
}

func (h *accountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.accountService.ChangePassword(r.Context(), ctxkeys.Account(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadAvatar accepts a multipart form with the image in the "avatar" field.
func (h *accountHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validation.AvatarConstraints.MaxSize+maxBodyBytes)
	err := r.ParseMultipartForm(validation.AvatarConstraints.MaxSize)
	if err != nil {
		slog.Debug("invalid avatar upload", "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected a multipart form with an avatar file", Kind: service.KindValidation.String()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "avatar file is required", Kind: service.KindValidation.String()})
		return
	}
	defer file.Close()

	url, err := h.accountService.UploadAvatar(r.Context(), ctxkeys.Account(r.Context()), header.Filename, header.Size, file)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": url})
}

func (h *accountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.accountService.DeleteAccount(r.Context(), ctxkeys.Account(r.Context()), req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sessionService.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}
