package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/job-tracker/internal/config"
	"github.com/sakif/job-tracker/internal/model"
)

func newTestServer(t *testing.T, opts ...func(*config.Config)) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:             "dev",
			DBPath:          ":memory:",
			ShutdownTimeout: time.Second,
			TrustedOrigins:  []string{"http://localhost:3000"},
			FrontendURL:     "http://localhost:3000",
			PublicURL:       "http://api.test",
		},
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret-at-least-16-chars!!",
			TokenTTL:       7 * 24 * time.Hour,
			RateLimitRPS:   100,
			RateLimitBurst: 100,
		},
		Storage: config.StorageConfig{
			UploadDir:      t.TempDir(),
			MaxUploadBytes: 1 << 20,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(cfg, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type authBody struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func register(t *testing.T, baseURL, email string) authBody {
	t.Helper()
	resp := doJSON(t, http.MethodPost, baseURL+"/auth/register", "", map[string]string{
		"displayName": "Ann",
		"email":       email,
		"password":    "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[authBody](t, resp)
}

var sampleApplication = map[string]string{
	"jobTitle":    "Eng",
	"company":     "Acme",
	"description": "d",
	"dateApplied": "2024-01-01",
	"status":      "applied",
	"jobPlatform": "LinkedIn",
	"jobUrl":      "http://x",
}

// =========================================================================
// END-TO-END TESTS
// =========================================================================

func TestRegisterCreateList(t *testing.T) {
	ts := newTestServer(t)

	reg := register(t, ts.URL, "a@x.com")
	require.NotEmpty(t, reg.Token)
	assert.Equal(t, "a@x.com", reg.User.Email)

	resp := doJSON(t, http.MethodPost, ts.URL+"/applications", reg.Token, sampleApplication)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[model.JobApplication](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, reg.User.ID, created.UserID)

	resp = doJSON(t, http.MethodGet, ts.URL+"/applications", reg.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-Total-Count"))
	assert.Equal(t, "1", resp.Header.Get("X-Page"))
	assert.Equal(t, "20", resp.Header.Get("X-Limit"))
	assert.Equal(t, "1", resp.Header.Get("X-Total-Pages"))

	list := decode[[]model.JobApplication](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
	assert.Equal(t, "Acme", list[0].Company)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	reg := register(t, ts.URL, "flow@x.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/register", "", map[string]string{
		"displayName": "Again", "email": "FLOW@x.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decode[map[string]string](t, resp)["error"])

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email": "flow@x.com", "password": "wrong-one",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Empty(t, body["token"])

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/login", "", map[string]string{
		"email": "flow@x.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[authBody](t, resp)
	assert.Equal(t, reg.User.ID, login.User.ID)

	resp = doJSON(t, http.MethodGet, ts.URL+"/auth/user", login.Token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw := decode[map[string]any](t, resp)
	assert.Equal(t, "flow@x.com", raw["email"])
	assert.NotContains(t, raw, "passwordHash")
	assert.NotContains(t, raw, "PasswordHash")

	resp = doJSON(t, http.MethodGet, ts.URL+"/auth/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForgotPassword_AlwaysOK(t *testing.T) {
	ts := newTestServer(t)
	register(t, ts.URL, "known@x.com")

	for _, email := range []string{"known@x.com", "unknown@x.com"} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/auth/forgot-password", "", map[string]string{"email": email})
		assert.Equal(t, http.StatusOK, resp.StatusCode, email)
	}

	resp := doJSON(t, http.MethodPost, ts.URL+"/auth/reset-password/not-a-real-token", "", map[string]string{
		"password": "new-secret",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_token", decode[map[string]string](t, resp)["error"])
}

func TestApplications_RequireAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/applications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/applications", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApplications_CrossUserIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	alice := register(t, ts.URL, "alice@x.com")
	bob := register(t, ts.URL, "bob@x.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/applications", alice.Token, sampleApplication)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	app := decode[model.JobApplication](t, resp)
	url := ts.URL + "/applications/" + app.ID

	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, url, bob.Token, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPut, url, bob.Token, map[string]string{"status": "x"}).StatusCode)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodDelete, url, bob.Token, nil).StatusCode)

	resp = doJSON(t, http.MethodPut, url, alice.Token, map[string]string{"status": "interview"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "interview", decode[model.JobApplication](t, resp).Status)

	assert.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, url, alice.Token, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, url, alice.Token, nil).StatusCode)
}

func TestApplications_ValidationAndQueryErrors(t *testing.T) {
	ts := newTestServer(t)
	reg := register(t, ts.URL, "v@x.com")

	resp := doJSON(t, http.MethodPost, ts.URL+"/applications", reg.Token, map[string]string{"jobTitle": "Eng"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "company is required", decode[map[string]string](t, resp)["message"])

	resp = doJSON(t, http.MethodGet, ts.URL+"/applications?sortBy=nope", reg.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/applications?page=abc", reg.Token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApplications_MultipartResume(t *testing.T) {
	ts := newTestServer(t)
	reg := register(t, ts.URL, "m@x.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range sampleApplication {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("resume", "cv.pdf")
	require.NoError(t, err)
	fw.Write([]byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/applications", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+reg.Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	app := decode[model.JobApplication](t, resp)
	require.True(t, strings.HasPrefix(app.ResumeURL, "http://api.test/uploads/"+reg.User.ID+"/"), app.ResumeURL)
	assert.True(t, strings.HasSuffix(app.ResumeURL, ".pdf"), app.ResumeURL)

	// The file is served from the public path.
	path := strings.TrimPrefix(app.ResumeURL, "http://api.test")
	fileResp := doJSON(t, http.MethodGet, ts.URL+path, "", nil)
	assert.Equal(t, http.StatusOK, fileResp.StatusCode)
	assert.Equal(t, "attachment", fileResp.Header.Get("Content-Disposition"))

	// Owner directories are not listable.
	dirResp := doJSON(t, http.MethodGet, ts.URL+"/uploads/"+reg.User.ID+"/", "", nil)
	assert.Equal(t, http.StatusNotFound, dirResp.StatusCode)
}

func TestHealthAndDisabledGoogle(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = doJSON(t, http.MethodGet, ts.URL+"/auth/google", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit_ForwardedForNeedsTrustedProxy(t *testing.T) {
	cases := []struct {
		name       string
		trustProxy bool
		wantLast   int
	}{
		{"direct", false, http.StatusTooManyRequests},
		{"behind proxy", true, http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, func(cfg *config.Config) {
				cfg.Auth.RateLimitRPS = 0.001
				cfg.Auth.RateLimitBurst = 2
				cfg.Server.TrustProxy = tc.trustProxy
			})

			login := func(forwardedFor string) int {
				req, err := http.NewRequest(http.MethodPost, ts.URL+"/auth/login",
					strings.NewReader(`{"email":"nobody@x.com","password":"secret1"}`))
				require.NoError(t, err)
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-Forwarded-For", forwardedFor)
				resp, err := http.DefaultClient.Do(req)
				require.NoError(t, err)
				resp.Body.Close()
				return resp.StatusCode
			}

			assert.Equal(t, http.StatusUnauthorized, login("203.0.113.1"))
			assert.Equal(t, http.StatusUnauthorized, login("203.0.113.2"))
			assert.Equal(t, tc.wantLast, login("203.0.113.3"))
		})
	}
}
