package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/job-tracker/internal/auth"
	"github.com/sakif/job-tracker/internal/service"
)

const stateCookieName = "oauth_state"

// OAuthProvider is the part of *auth.GoogleProvider the handler uses.
type OAuthProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleProfile, error)
}

// AuthHandler serves the /auth routes.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin    → JSON in, {token, user} out
//   - HandleGoogleLogin               → redirect the browser to Google
//   - HandleGoogleCallback            → finish OAuth, redirect to the frontend with a token
//   - HandleCurrentUser               → the user RequireAuth put in the context
//   - HandleLogout                    → clear the state cookie
//   - HandleForgotPassword / HandleResetPassword → the reset flow
type AuthHandler struct {
	auth          *service.AuthService
	google        OAuthProvider // nil when Google sign-in is not configured
	frontendURL   string
	secureCookies bool
	logger        *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secureCookies marks the OAuth state
// cookie Secure, which requires HTTPS; leave it off for local development.
func NewAuthHandler(
	authService *service.AuthService,
	google OAuthProvider,
	frontendURL string,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:          authService,
		google:        google,
		frontendURL:   frontendURL,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleRegister creates a password account.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"displayName": "Ann", "email": "a@x.com", "password": "secret1"}
// RESPONSE: 201 {"token": "...", "user": {...}}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"email": "a@x.com", "password": "secret1"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleGoogleLogin redirects the browser to Google's consent screen.
//
// HTTP: GET /auth/google
//
// CSRF PROTECTION VIA STATE:
// A random state value goes both into a short-lived HttpOnly cookie and
// into the consent URL. The callback only proceeds when the two match, which
// proves the flow was started from this browser.
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the OAuth flow.
//
// HTTP: GET /auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Check the state parameter against the cookie (CSRF)
//  2. Exchange the code for the Google profile
//  3. Find, link or create the account and issue a token
//  4. Redirect to <frontend>/auth/success?token=<jwt>
//
// Any failure redirects to <frontend>/login?error=oauth_failed; the browser
// is mid-navigation here, so a JSON error body would be useless.
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	h.clearStateCookie(w)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.WarnContext(r.Context(), "oauth callback: state mismatch")
		h.redirectOAuthFailure(w, r)
		return
	}

	// Google sends ?error=access_denied when the user cancels.
	if errParam := q.Get("error"); errParam != "" {
		h.logger.InfoContext(r.Context(), "oauth callback: authorization denied", slog.String("error", errParam))
		h.redirectOAuthFailure(w, r)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.redirectOAuthFailure(w, r)
		return
	}

	profile, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "oauth callback: exchange failed", slog.String("error", err.Error()))
		h.redirectOAuthFailure(w, r)
		return
	}

	res, err := h.auth.OAuthLogin(r.Context(), profile)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "oauth callback: login failed", slog.String("error", err.Error()))
		h.redirectOAuthFailure(w, r)
		return
	}

	target := h.frontendURL + "/auth/success?" + url.Values{"token": {res.Token}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleCurrentUser returns the authenticated user.
//
// HTTP: GET /auth/user
// Auth: required
func (h *AuthHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleLogout acknowledges a logout.
//
// HTTP: POST /auth/logout
//
// Bearer tokens are stateless, so there is nothing to revoke server-side;
// the client drops its copy. Any OAuth state cookie left over from an
// abandoned sign-in is cleared.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.clearStateCookie(w)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleForgotPassword starts a password reset.
//
// HTTP: POST /auth/forgot-password
// REQUEST BODY: {"email": "a@x.com"}
//
// The response is the same whether or not the email is registered.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), in.Email); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "If an account exists for that email, a password reset link has been sent.",
	})
}

// HandleResetPassword redeems a reset token.
//
// HTTP: POST /auth/reset-password/{token}
// REQUEST BODY: {"password": "new-secret"}
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.auth.ResetPassword(r.Context(), chi.URLParam(r, "token"), in.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset."})
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) redirectOAuthFailure(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, h.frontendURL+"/login?error=oauth_failed", http.StatusSeeOther)
}
