package routes

import (
	"net/http"

	"github.com/templui/linkpage/internal/app"
	"github.com/templui/linkpage/internal/handler"
	"github.com/templui/linkpage/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	public := handler.NewPublicHandler(app.AccountService, app.DB.PingContext)
	auth := handler.NewAuthHandler(app.AccountService, app.SessionService)
	account := handler.NewAccountHandler(app.AccountService, app.SessionService)
	billing := handler.NewBillingHandler(app.BillingService)
	staff := handler.NewStaffHandler(app.Moderation, app.AuditService)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /health", public.Health)
	mux.HandleFunc("GET /u/{username}", public.Profile)

	// Auth (rate limited)
	rateLimiter := middleware.RateLimitAuth(app.Cfg.AuthRateLimit)

	mux.HandleFunc("POST /auth/register", rateLimiter(auth.Register))
	mux.HandleFunc("POST /auth/login", rateLimiter(auth.Login))
	mux.HandleFunc("POST /auth/logout", auth.Logout)
	mux.HandleFunc("GET /auth/verify/{token}", rateLimiter(auth.VerifyEmail))
	mux.HandleFunc("POST /auth/reset", rateLimiter(auth.RequestPasswordReset))
	mux.HandleFunc("POST /auth/reset/{token}", rateLimiter(auth.ResetPassword))

	// ============================================================================
	// ACCOUNT ROUTES
	// ============================================================================

	// Available while awaiting email verification
	mux.HandleFunc("POST /auth/verify/resend", rateLimiter(middleware.RequireAuth(auth.ResendVerification)))
	mux.HandleFunc("GET /account", middleware.RequireAuth(account.Me))
	mux.HandleFunc("DELETE /account", middleware.RequireAuth(account.DeleteAccount))

	// Self-service, verified email required
	mux.HandleFunc("PATCH /account/profile", middleware.RequireVerified(account.UpdateProfile))
	mux.HandleFunc("PUT /account/username", middleware.RequireVerified(account.ChangeUsername))
	mux.HandleFunc("PUT /account/email", middleware.RequireVerified(account.ChangeEmail))
	mux.HandleFunc("PUT /account/password", middleware.RequireVerified(account.ChangePassword))
	mux.HandleFunc("POST /account/avatar", middleware.RequireVerified(account.UploadAvatar))

	// ============================================================================
	// BILLING
	// ============================================================================

	mux.HandleFunc("POST /billing/checkout", middleware.RequireVerified(billing.Checkout))
	mux.HandleFunc("GET /billing/confirm", middleware.RequireAuth(billing.Confirm))

	// Payment provider webhook (works with both Polar and Stripe)
	mux.HandleFunc("POST /billing/webhook", billing.Webhook)

	// ============================================================================
	// STAFF ROUTES
	// ============================================================================

	mux.HandleFunc("GET /staff/accounts/{username}", middleware.RequireStaff(staff.Account))
	mux.HandleFunc("PATCH /staff/accounts/{username}", middleware.RequireStaff(staff.Edit))
	mux.HandleFunc("DELETE /staff/accounts/{username}", middleware.RequireStaff(staff.Delete))
	mux.HandleFunc("POST /staff/accounts/{username}/extend", middleware.RequireStaff(staff.Extend))
	mux.HandleFunc("POST /staff/accounts/{username}/{action}", middleware.RequireStaff(staff.Action))
	mux.HandleFunc("POST /staff/shadows", middleware.RequireStaff(staff.CreateShadow))
	mux.HandleFunc("GET /staff/audit", middleware.RequireStaff(staff.Audit))

	// ============================================================================
	// FALLBACK
	// ============================================================================

	mux.HandleFunc("/{path...}", handler.NotFound)

	// Global middleware - executed in order (top to bottom)
	return middleware.Chain(
		mux,
		middleware.SecurityHeaders(app.Cfg.IsProduction()),
		middleware.RequestLogging,
		middleware.CSRFProtection(app.Cfg.IsProduction()),
		middleware.AuthMiddleware(app.SessionService, app.AccountService),
	)
}
