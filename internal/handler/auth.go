package handler

import (
	"log/slog"
	"net/http"

	"github.com/templui/linkpage/internal/ctxkeys"
	"github.com/templui/linkpage/internal/model"
	"github.com/templui/linkpage/internal/service"
)

type authHandler struct {
	accountService *service.AccountService
	sessionService *service.SessionService
}

func NewAuthHandler(accountService *service.AccountService, sessionService *service.SessionService) *authHandler {
	return &authHandler{
		accountService: accountService,
		sessionService: sessionService,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	// Identifier is a username or an email address.
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

// signIn issues a session cookie and answers with the account.
func (h *authHandler) signIn(w http.ResponseWriter, r *http.Request, status int, account *model.Account) {
	token, expiry, err := h.sessionService.Issue(account.Username)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.sessionService.SetCookie(w, token, expiry)

	credential, err := h.accountService.Credential(r.Context(), account)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, status, newAccountView(account, credential))
}

func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.accountService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.signIn(w, r, http.StatusCreated, account)
}

func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	account, err := h.accountService.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.signIn(w, r, http.StatusOK, account)
}

func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessionService.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail consumes the link from the verification email.
func (h *authHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	account, err := h.accountService.VerifyEmail(r.Context(), r.PathValue("token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username":          account.Username,
		"verificationLevel": account.VerificationLevel.String(),
	})
}

// ResendVerification takes an optional {"email"} body to correct the address
// before the new link goes out.
func (h *authHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	err := h.accountService.ResendVerification(r.Context(), ctxkeys.Account(r.Context()), req.Email)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// RequestPasswordReset always answers 202 for well-formed input so the
// endpoint does not reveal which emails are registered.
func (h *authHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.accountService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		if service.KindOf(err) == service.KindValidation {
			WriteError(w, r, err)
			return
		}
		slog.Error("password reset request failed", "error", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if !decode(w, r, &req) {
		return
	}

	err := h.accountService.ResetPassword(r.Context(), r.PathValue("token"), req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
