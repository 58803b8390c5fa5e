package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/job-tracker/internal/apperror"
	"github.com/sakif/job-tracker/internal/auth"
	"github.com/sakif/job-tracker/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. Email lookups
// ignore case, like the SQLite column.
type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int

	getErr error // returned by every lookup when set
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, user.Email) {
			return apperror.Conflict("user with email", user.Email)
		}
		if user.GoogleID != "" && u.GoogleID == user.GoogleID {
			return apperror.Conflict("google account", user.GoogleID)
		}
	}
	f.nextID++
	user.ID = "user-" + string(rune('0'+f.nextID))
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeUserRepo) LinkGoogleAccount(_ context.Context, userID, googleID, photo string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	u.GoogleID = googleID
	if u.Photo == "" {
		u.Photo = photo
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) SetPasswordReset(_ context.Context, userID, tokenHash string, expires time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.ResetPasswordToken = tokenHash
	u.ResetPasswordExpires = expires
	return nil
}

func (f *fakeUserRepo) ResetPassword(_ context.Context, tokenHash, passwordHash string, now time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ResetPasswordToken != "" && u.ResetPasswordToken == tokenHash && u.ResetPasswordExpires.After(now) {
			u.PasswordHash = passwordHash
			u.ResetPasswordToken = ""
			u.ResetPasswordExpires = time.Time{}
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("password reset token", "(redacted)")
}

// pendingReset returns the stored reset hash for email.
func (f *fakeUserRepo) pendingReset(email string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return u.ResetPasswordToken
		}
	}
	return ""
}

// MockMailer records reset emails.
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendPasswordResetEmail(ctx context.Context, to, resetLink string) error {
	args := m.Called(ctx, to, resetLink)
	return args.Error(0)
}

const testFrontendURL = "http://localhost:5173"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestAuthService(t *testing.T, repo *fakeUserRepo, mailer Mailer) *AuthService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)
	return NewAuthService(repo, ts, auth.NewPasswordServiceForTest(bcrypt.MinCost), mailer, testFrontendURL, testLogger())
}

func registerTestUser(t *testing.T, svc *AuthService, email, password string) *AuthResult {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterInput{
		DisplayName: "Test User",
		Email:       email,
		Password:    password,
	})
	require.NoError(t, err)
	return res
}

// =========================================================================
// Register TESTS
// =========================================================================

func TestRegister(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)

	res, err := svc.Register(context.Background(), RegisterInput{
		DisplayName: "  Ada Lovelace ",
		Email:       " Ada@Example.COM ",
		Password:    "secret1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, "Ada Lovelace", res.User.DisplayName)
	assert.Equal(t, "ada@example.com", res.User.Email)
	assert.NotEqual(t, "secret1", res.User.PasswordHash)

	user, err := svc.ValidateBearerToken(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, user.ID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	registerTestUser(t, svc, "dup@example.com", "secret1")

	res, err := svc.Register(context.Background(), RegisterInput{
		DisplayName: "Other",
		Email:       "DUP@example.com",
		Password:    "secret2",
	})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Len(t, repo.users, 1)
}

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name      string
		in        RegisterInput
		wantField string
	}{
		{"missing name", RegisterInput{Email: "a@b.co", Password: "secret1"}, "displayName"},
		{"blank name", RegisterInput{DisplayName: "   ", Email: "a@b.co", Password: "secret1"}, "displayName"},
		{"missing email", RegisterInput{DisplayName: "A", Password: "secret1"}, "email"},
		{"bad email", RegisterInput{DisplayName: "A", Email: "not-an-email", Password: "secret1"}, "email"},
		{"missing password", RegisterInput{DisplayName: "A", Email: "a@b.co"}, "password"},
		{"short password", RegisterInput{DisplayName: "A", Email: "a@b.co", Password: "12345"}, "password"},
		{"long password", RegisterInput{DisplayName: "A", Email: "a@b.co", Password: strings.Repeat("x", 73)}, "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestAuthService(t, newFakeUserRepo(), nil)
			_, err := svc.Register(context.Background(), tc.in)
			require.ErrorIs(t, err, apperror.ErrValidation)

			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.wantField, appErr.Field)
		})
	}
}

// =========================================================================
// Login TESTS
// =========================================================================

func TestLogin(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	reg := registerTestUser(t, svc, "login@example.com", "secret1")

	res, err := svc.Login(context.Background(), LoginInput{Email: "LOGIN@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	assert.NotEmpty(t, res.Token)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	registerTestUser(t, svc, "login@example.com", "secret1")
	require.NoError(t, repo.CreateUser(context.Background(), &model.User{
		DisplayName: "Google Only",
		Email:       "google@example.com",
		GoogleID:    "g-1",
	}))

	cases := []struct {
		name string
		in   LoginInput
	}{
		{"wrong password", LoginInput{Email: "login@example.com", Password: "wrong-password"}},
		{"unknown email", LoginInput{Email: "nobody@example.com", Password: "secret1"}},
		{"oauth-only account", LoginInput{Email: "google@example.com", Password: "secret1"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Login(context.Background(), tc.in)
			assert.Nil(t, res)
			require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
			assert.Equal(t, "invalid email or password", err.Error())
		})
	}
}

func TestLogin_MissingFields(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)
	_, err := svc.Login(context.Background(), LoginInput{Email: "a@b.co"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestLogin_RepositoryError(t *testing.T) {
	repo := newFakeUserRepo()
	repo.getErr = errors.New("database is on fire")
	svc := newTestAuthService(t, repo, nil)

	_, err := svc.Login(context.Background(), LoginInput{Email: "a@b.co", Password: "secret1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperror.ErrInvalidCredentials)
}

// =========================================================================
// OAuthLogin TESTS
// =========================================================================

func TestOAuthLogin_NewUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)

	res, err := svc.OAuthLogin(context.Background(), &auth.GoogleProfile{
		Subject:       "google-123",
		Email:         "New@Gmail.com",
		EmailVerified: true,
		Name:          "New Person",
		Picture:       "https://example.com/p.png",
	})
	require.NoError(t, err)

	assert.Equal(t, "google-123", res.User.GoogleID)
	assert.Equal(t, "new@gmail.com", res.User.Email)
	assert.Equal(t, "New Person", res.User.DisplayName)
	assert.Equal(t, "https://example.com/p.png", res.User.Photo)
	assert.False(t, res.User.HasPassword())
	assert.NotEmpty(t, res.Token)
}

func TestOAuthLogin_NameFallsBackToEmail(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)

	res, err := svc.OAuthLogin(context.Background(), &auth.GoogleProfile{Subject: "g", Email: "jo.doe@gmail.com", EmailVerified: true})
	require.NoError(t, err)
	assert.Equal(t, "jo.doe", res.User.DisplayName)
}

func TestOAuthLogin_LinksExistingPasswordAccount(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	reg := registerTestUser(t, svc, "both@example.com", "secret1")

	res, err := svc.OAuthLogin(context.Background(), &auth.GoogleProfile{
		Subject:       "google-456",
		Email:         "both@example.com",
		EmailVerified: true,
		Picture:       "https://example.com/avatar.png",
	})
	require.NoError(t, err)

	assert.Equal(t, reg.User.ID, res.User.ID, "should reuse the existing account")
	assert.Equal(t, "google-456", res.User.GoogleID)
	assert.Equal(t, "https://example.com/avatar.png", res.User.Photo)
	assert.Len(t, repo.users, 1)

	// The password still works after linking.
	_, err = svc.Login(context.Background(), LoginInput{Email: "both@example.com", Password: "secret1"})
	assert.NoError(t, err)
}

func TestOAuthLogin_ReturningUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	profile := &auth.GoogleProfile{Subject: "google-789", Email: "again@gmail.com", EmailVerified: true, Name: "Again"}

	first, err := svc.OAuthLogin(context.Background(), profile)
	require.NoError(t, err)
	second, err := svc.OAuthLogin(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Len(t, repo.users, 1)
}

func TestOAuthLogin_IncompleteProfile(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)

	_, err := svc.OAuthLogin(context.Background(), nil)
	assert.Error(t, err)
	_, err = svc.OAuthLogin(context.Background(), &auth.GoogleProfile{Subject: "x"})
	assert.Error(t, err)
}

func TestOAuthLogin_UnverifiedEmailDoesNotLink(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	reg := registerTestUser(t, svc, "victim@example.com", "secret1")

	res, err := svc.OAuthLogin(context.Background(), &auth.GoogleProfile{
		Subject:       "other-sub",
		Email:         "victim@example.com",
		EmailVerified: false,
	})
	require.ErrorIs(t, err, auth.ErrEmailNotVerified)
	assert.Nil(t, res)

	stored, err := repo.GetUserByID(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GoogleID, "account must stay unlinked")
	assert.Len(t, repo.users, 1)
}

// =========================================================================
// ValidateBearerToken TESTS
// =========================================================================

func TestValidateBearerToken_Garbage(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)

	_, err := svc.ValidateBearerToken(context.Background(), "this.is.garbage")
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, "invalid token", err.Error())
}

func TestValidateBearerToken_Expired(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	reg := registerTestUser(t, svc, "exp@example.com", "secret1")

	token, err := svc.tokens.GenerateWithDuration(reg.User.ID, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateBearerToken(context.Background(), token)
	require.ErrorIs(t, err, apperror.ErrUnauthorized)
	assert.Equal(t, "token expired", err.Error())
}

func TestValidateBearerToken_DeletedUser(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, nil)
	reg := registerTestUser(t, svc, "gone@example.com", "secret1")
	delete(repo.users, reg.User.ID)

	_, err := svc.ValidateBearerToken(context.Background(), reg.Token)
	assert.ErrorIs(t, err, apperror.ErrUnauthorized)
}

// =========================================================================
// ForgotPassword / ResetPassword TESTS
// =========================================================================

func TestForgotPassword_SendsLink(t *testing.T) {
	repo := newFakeUserRepo()
	mailer := new(MockMailer)
	svc := newTestAuthService(t, repo, mailer)
	registerTestUser(t, svc, "forgot@example.com", "secret1")

	var link string
	mailer.On("SendPasswordResetEmail", mock.Anything, "forgot@example.com", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil).Once()

	require.NoError(t, svc.ForgotPassword(context.Background(), "Forgot@Example.com"))
	svc.Wait()
	mailer.AssertExpectations(t)

	prefix := testFrontendURL + "/reset-password/"
	require.True(t, strings.HasPrefix(link, prefix), "link = %q", link)
	raw := strings.TrimPrefix(link, prefix)

	// Only the hash is stored.
	stored := repo.pendingReset("forgot@example.com")
	assert.NotEqual(t, raw, stored)
	assert.Equal(t, auth.HashResetToken(raw), stored)
}

func TestForgotPassword_UnknownEmail(t *testing.T) {
	mailer := new(MockMailer)
	svc := newTestAuthService(t, newFakeUserRepo(), mailer)

	require.NoError(t, svc.ForgotPassword(context.Background(), "nobody@example.com"))
	svc.Wait()
	mailer.AssertNotCalled(t, "SendPasswordResetEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestForgotPassword_MailFailureIsNotReturned(t *testing.T) {
	mailer := new(MockMailer)
	svc := newTestAuthService(t, newFakeUserRepo(), mailer)
	registerTestUser(t, svc, "smtp@example.com", "secret1")

	mailer.On("SendPasswordResetEmail", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("smtp down")).Once()

	assert.NoError(t, svc.ForgotPassword(context.Background(), "smtp@example.com"))
	svc.Wait()
	mailer.AssertExpectations(t)
}

func TestForgotPassword_EmptyEmail(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)
	assert.ErrorIs(t, svc.ForgotPassword(context.Background(), "  "), apperror.ErrValidation)
}

// requestReset runs ForgotPassword and returns the raw token from the email.
func requestReset(t *testing.T, svc *AuthService, mailer *MockMailer, email string) string {
	t.Helper()
	var link string
	mailer.On("SendPasswordResetEmail", mock.Anything, email, mock.Anything).
		Run(func(args mock.Arguments) { link = args.String(2) }).
		Return(nil).Once()
	require.NoError(t, svc.ForgotPassword(context.Background(), email))
	svc.Wait()
	return strings.TrimPrefix(link, testFrontendURL+"/reset-password/")
}

func TestResetPassword(t *testing.T) {
	repo := newFakeUserRepo()
	mailer := new(MockMailer)
	svc := newTestAuthService(t, repo, mailer)
	registerTestUser(t, svc, "reset@example.com", "old-secret")

	token := requestReset(t, svc, mailer, "reset@example.com")
	require.NoError(t, svc.ResetPassword(context.Background(), token, "new-secret"))

	_, err := svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "new-secret"})
	assert.NoError(t, err)
	_, err = svc.Login(context.Background(), LoginInput{Email: "reset@example.com", Password: "old-secret"})
	assert.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	assert.Empty(t, repo.pendingReset("reset@example.com"))
}

func TestResetPassword_SingleUse(t *testing.T) {
	repo := newFakeUserRepo()
	mailer := new(MockMailer)
	svc := newTestAuthService(t, repo, mailer)
	registerTestUser(t, svc, "once@example.com", "old-secret")

	token := requestReset(t, svc, mailer, "once@example.com")
	require.NoError(t, svc.ResetPassword(context.Background(), token, "new-secret"))

	err := svc.ResetPassword(context.Background(), token, "another-secret")
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestResetPassword_Expired(t *testing.T) {
	repo := newFakeUserRepo()
	mailer := new(MockMailer)
	svc := newTestAuthService(t, repo, mailer)
	registerTestUser(t, svc, "late@example.com", "old-secret")

	issued := time.Now()
	svc.now = func() time.Time { return issued }
	token := requestReset(t, svc, mailer, "late@example.com")

	svc.now = func() time.Time { return issued.Add(auth.ResetTokenTTL) }
	err := svc.ResetPassword(context.Background(), token, "new-secret")
	assert.ErrorIs(t, err, apperror.ErrInvalidToken)
}

func TestResetPassword_BadInput(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), nil)

	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "", "new-secret"), apperror.ErrInvalidToken)
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "unknown-token", "new-secret"), apperror.ErrInvalidToken)
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "unknown-token", "123"), apperror.ErrValidation)
}
