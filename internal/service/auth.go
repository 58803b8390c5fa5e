// Package service holds the business rules of the API.
//
// The layering is the usual one:
//
//	Handler (HTTP) → Service (rules, orchestration) → Repository (SQL)
//
// Services take and return plain Go values and domain errors from
// internal/apperror. They never see an *http.Request; handlers translate
// apperror sentinels into status codes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/auth"
	"github.com/sakif/job-tracker/internal/model"
	"github.com/sakif/job-tracker/internal/repository"
)

// mailTimeout bounds one reset-email send. The send outlives the request
// that triggered it, so it cannot borrow the request's deadline.
const mailTimeout = 30 * time.Second

// Mailer delivers password-reset links. email.Service implements it.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, to, resetLink string) error
}

// AuthService handles registration, login, Google sign-in, bearer token
// validation and the password-reset flow.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users      repository.UserRepository → credential store
//   - tokens     *auth.TokenService        → issue/validate JWTs
//   - passwords  *auth.PasswordService     → bcrypt
//   - mailer     Mailer                    → reset emails
type AuthService struct {
	users       repository.UserRepository
	tokens      *auth.TokenService
	passwords   *auth.PasswordService
	mailer      Mailer
	frontendURL string
	logger      *slog.Logger

	now func() time.Time
	// mail tracks reset emails still being sent, so shutdown can wait for them.
	mail sync.WaitGroup
}

// NewAuthService creates an AuthService. frontendURL is the base of the
// links put into reset emails.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer Mailer,
	frontendURL string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		tokens:      tokens,
		passwords:   passwords,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

// AuthResult is what a successful register or login returns: the user and
// a freshly issued bearer token.
type AuthResult struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

// RegisterInput is the body of POST /auth/register.
type RegisterInput struct {
	DisplayName string `json:"displayName" validate:"required"`
	Email       string `json:"email"       validate:"required,email"`
	Password    string `json:"password"    validate:"required"`
}

// LoginInput is the body of POST /auth/login.
type LoginInput struct {
	Email    string `json:"email"    validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register creates a password account and signs it in.
//
// A duplicate email comes back from the repository as apperror.ErrConflict
// and is returned as is. The UNIQUE constraint decides, so two concurrent
// registrations for one address cannot both succeed.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = normalizeEmail(in.Email)

	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := auth.CheckPolicy(in.Password); err != nil {
		return nil, passwordPolicyError(err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		DisplayName:  in.DisplayName,
		Email:        in.Email,
		PasswordHash: hash,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("userID", user.ID))
	return s.issue(user)
}

// Login checks an email/password pair.
//
// Unknown email, an account that only ever signed in with Google, and a
// wrong password all produce the same apperror.InvalidCredentials, so the
// response never tells a caller which emails are registered.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if !user.HasPassword() {
		return nil, apperror.InvalidCredentials()
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	return s.issue(user)
}

// OAuthLogin signs in a user from a verified Google profile.
//
// Email is the join key, so a profile whose email Google has not verified
// is refused. An existing account without a Google ID gets this
// one attached (and the avatar, if it has none); an unknown email gets a new
// account with no password.
func (s *AuthService) OAuthLogin(ctx context.Context, profile *auth.GoogleProfile) (*AuthResult, error) {
	if profile == nil || profile.Subject == "" || profile.Email == "" {
		return nil, errors.New("service/auth: google profile is incomplete")
	}
	if !profile.EmailVerified {
		return nil, fmt.Errorf("service/auth: %w", auth.ErrEmailNotVerified)
	}
	email := normalizeEmail(profile.Email)

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if user.GoogleID == "" {
			user, err = s.users.LinkGoogleAccount(ctx, user.ID, profile.Subject, profile.Picture)
			if err != nil {
				return nil, fmt.Errorf("service/auth: linking google account: %w", err)
			}
			s.logger.InfoContext(ctx, "google account linked", slog.String("userID", user.ID))
		}

	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			GoogleID:    profile.Subject,
			DisplayName: displayNameFor(profile.Name, email),
			Email:       email,
			Photo:       profile.Picture,
		}
		if err := s.users.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating google user: %w", err)
		}
		s.logger.InfoContext(ctx, "user registered via google", slog.String("userID", user.ID))

	default:
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	return s.issue(user)
}

// ValidateBearerToken resolves a bearer token to its user. Every failure is
// an apperror.ErrUnauthorized so the middleware can answer 401 with the
// message as is.
func (s *AuthService) ValidateBearerToken(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Validate(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperror.Unauthorized("token expired")
		}
		return nil, apperror.Unauthorized("invalid token")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("user no longer exists")
		}
		return nil, fmt.Errorf("service/auth: loading token user: %w", err)
	}
	return user, nil
}

// ForgotPassword starts a password reset for email.
//
// It returns nil for unknown addresses too; the handler answers 200 either
// way. The email is sent on a separate goroutine: a slow SMTP server must
// not delay the response or reveal through timing that the account exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}

	raw, hash, err := auth.NewResetToken()
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordReset(ctx, user.ID, hash, s.now().Add(auth.ResetTokenTTL)); err != nil {
		return fmt.Errorf("service/auth: storing reset token: %w", err)
	}

	link := s.frontendURL + "/reset-password/" + raw
	mailCtx := context.WithoutCancel(ctx)
	s.mail.Go(func() {
		ctx, cancel := context.WithTimeout(mailCtx, mailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, link); err != nil {
			s.logger.ErrorContext(ctx, "failed to send password reset email",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
	})

	s.logger.InfoContext(ctx, "password reset issued", slog.String("userID", user.ID))
	return nil
}

// ResetPassword redeems a reset token and sets a new password. An unknown,
// expired or already used token is apperror.ErrInvalidToken.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperror.InvalidOrExpiredToken()
	}
	if err := auth.CheckPolicy(newPassword); err != nil {
		return passwordPolicyError(err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.ResetPassword(ctx, auth.HashResetToken(token), hash, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.InvalidOrExpiredToken()
		}
		return fmt.Errorf("service/auth: resetting password: %w", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("userID", user.ID))
	return nil
}

// Wait blocks until every reset email started by ForgotPassword has been
// handed to the mailer or given up.
func (s *AuthService) Wait() {
	s.mail.Wait()
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// displayNameFor falls back to the local part of the email when Google
// returns no name.
func displayNameFor(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func passwordPolicyError(err error) error {
	return apperror.ValidationFailed("password", strings.TrimPrefix(err.Error(), "auth: "))
}
