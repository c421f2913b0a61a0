package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrsteele09/hms-console/authapi"
	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/jrsteele09/hms-console/server"
	"github.com/jrsteele09/hms-console/token"
	"github.com/jrsteele09/hms-console/token/refresh/refreshrepofake"
	"github.com/jrsteele09/hms-console/tokenstore"
	"github.com/jrsteele09/hms-console/users"
	fakeuserrepo "github.com/jrsteele09/hms-console/users/repofake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

const (
	nurseEmail  = "nurse@hms.local"
	doctorEmail = "doctor@hms.local"
	blockEmail  = "blocked@hms.local"
	password    = "Welcome123"
	otpCode     = "246810"
	origin      = "http://localhost:3000"
)

var testStaff = []server.StaffSeed{
	{
		Profile:  users.Profile{ID: "nurse-1", Email: nurseEmail, Roles: []users.Role{users.RoleNurse}},
		Password: password,
	},
	{
		Profile:  users.Profile{ID: "doctor-1", Email: doctorEmail, Roles: []users.Role{users.RoleDoctor}},
		Password: password,
		OTPCode:  otpCode,
	},
	{
		Profile:  users.Profile{ID: "blocked-1", Email: blockEmail, Roles: []users.Role{users.RoleReceptionist}},
		Password: password,
	},
}

// testFixture holds a running reference backend and its stores
type testFixture struct {
	server   *server.Server
	http     *httptest.Server
	users    *fakeuserrepo.FakeUserRepo
	refresh  *refreshrepofake.FakeRefreshTokenRepo
	revoked  *token.InMemoryRevokedTokenCache
	registry *prometheus.Registry
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	v := viper.New()
	v.Set("env", "TEST")
	v.Set("jwt_secret", "test-secret")
	v.Set("issuer", "hms-test")
	cfg := config.NewFromViper(v)

	f := &testFixture{
		users:    fakeuserrepo.NewFakeUserRepo(),
		refresh:  refreshrepofake.NewFakeRefreshTokenRepo(),
		revoked:  token.NewInMemoryRevokedTokenCache(),
		registry: prometheus.NewRegistry(),
	}
	require.NoError(t, server.SeedStaff(f.users, testStaff, zerolog.Nop()))
	require.NoError(t, f.users.SetBlocked(blockEmail, true))

	srv, err := server.New(cfg, server.Repos{
		Users:         f.users,
		RefreshTokens: f.refresh,
		Revoked:       f.revoked,
	}, server.WithLogger(zerolog.Nop()), server.WithRegistry(f.registry))
	require.NoError(t, err)

	f.server = srv
	f.http = httptest.NewServer(srv)
	t.Cleanup(f.http.Close)
	return f
}

func (f *testFixture) do(t *testing.T, method, path string, body any, header http.Header) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (f *testFixture) login(t *testing.T, req authapi.LoginRequest) authapi.TokenResponse {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, authapi.RouteLogin, req, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var tr authapi.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tr))
	return tr
}

func bearer(accessToken string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + accessToken}}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e map[string]string
	require.NoError(t, json.Unmarshal(body, &e))
	return e["error"]
}

func TestNew_RequiresRepos(t *testing.T) {
	cfg := config.NewFromViper(viper.New())
	_, err := server.New(cfg, server.Repos{})
	require.Error(t, err)
}

func TestLogin_IssuesTokenPair(t *testing.T) {
	f := setupTestFixture(t)

	tr := f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})

	require.NotNil(t, tr.AccessToken)
	require.NotNil(t, tr.RefreshToken)
	require.Equal(t, "Bearer", tr.TokenType)
	require.InDelta(t, 900, tr.ExpiresIn, 1)
	require.Equal(t, 1, f.refresh.Len())
}

func TestLogin_EmailIsCaseInsensitive(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, authapi.LoginRequest{Email: strings.ToUpper(nurseEmail), Password: password})
}

func TestLogin_Rejections(t *testing.T) {
	f := setupTestFixture(t)

	tests := []struct {
		name   string
		req    authapi.LoginRequest
		status int
		code   string
	}{
		{"wrong password", authapi.LoginRequest{Email: nurseEmail, Password: "Wrong1234"}, http.StatusUnauthorized, "invalid_credentials"},
		{"unknown user", authapi.LoginRequest{Email: "ghost@hms.local", Password: password}, http.StatusUnauthorized, "invalid_credentials"},
		{"missing fields", authapi.LoginRequest{Email: nurseEmail}, http.StatusBadRequest, "invalid_request"},
		{"otp missing", authapi.LoginRequest{Email: doctorEmail, Password: password}, http.StatusUnauthorized, authapi.CodeOTPRequired},
		{"otp wrong", authapi.LoginRequest{Email: doctorEmail, Password: password, OTPCode: "000000"}, http.StatusUnauthorized, authapi.CodeOTPRequired},
		{"blocked", authapi.LoginRequest{Email: blockEmail, Password: password}, http.StatusForbidden, "account_blocked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, authapi.RouteLogin, tt.req, nil)
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestLogin_WithOTP(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.login(t, authapi.LoginRequest{Email: doctorEmail, Password: password, OTPCode: otpCode})
	require.NotNil(t, tr.AccessToken)
}

func TestMe_BearerAndCookie(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})

	resp, body := f.do(t, http.MethodGet, authapi.RouteMe, nil, bearer(*tr.AccessToken))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile users.Profile
	require.NoError(t, json.Unmarshal(body, &profile))
	require.Equal(t, "nurse-1", profile.ID)
	require.True(t, profile.HasRole(users.RoleNurse))

	cookie := tokenstore.AccessTokenCookie(*tr.AccessToken, 0, false)
	sent := &http.Cookie{Name: cookie.Name, Value: cookie.Value}
	resp, _ = f.do(t, http.MethodGet, authapi.RouteMe, nil, http.Header{"Cookie": []string{sent.String()}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMe_RejectsMissingAndBadTokens(t *testing.T) {
	f := setupTestFixture(t)

	resp, body := f.do(t, http.MethodGet, authapi.RouteMe, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "unauthorized", errorCode(t, body))

	resp, body = f.do(t, http.MethodGet, authapi.RouteMe, nil, bearer("not-a-jwt"))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_token", errorCode(t, body))

	resp, _ = f.do(t, http.MethodGet, authapi.RouteMe, nil, http.Header{"Authorization": []string{"Basic abc"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	f := setupTestFixture(t)
	first := f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})

	resp, body := f.do(t, http.MethodPost, authapi.RouteRefresh, authapi.RefreshRequest{RefreshToken: *first.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second authapi.TokenResponse
	require.NoError(t, json.Unmarshal(body, &second))
	require.NotEqual(t, *first.RefreshToken, *second.RefreshToken)

	resp, body = f.do(t, http.MethodPost, authapi.RouteRefresh, authapi.RefreshRequest{RefreshToken: *first.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_grant", errorCode(t, body))
}

func TestRefresh_BlockedAccountLosesSession(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})
	require.NoError(t, f.users.SetBlocked(nurseEmail, true))

	resp, _ := f.do(t, http.MethodPost, authapi.RouteRefresh, authapi.RefreshRequest{RefreshToken: *tr.RefreshToken}, nil)

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Zero(t, f.refresh.Len())
}

func TestLogout_RevokesAccessAndRefreshTokens(t *testing.T) {
	f := setupTestFixture(t)
	tr := f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})

	resp, _ := f.do(t, http.MethodPost, authapi.RouteLogout, nil, bearer(*tr.AccessToken))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, authapi.RouteMe, nil, bearer(*tr.AccessToken))
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid_token", errorCode(t, body))

	resp, _ = f.do(t, http.MethodPost, authapi.RouteRefresh, authapi.RefreshRequest{RefreshToken: *tr.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, 1, f.revoked.Len())
}

func TestCors(t *testing.T) {
	f := setupTestFixture(t)

	resp, _ := f.do(t, http.MethodOptions, authapi.RouteLogin, nil, http.Header{"Origin": []string{origin}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	require.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))

	resp, _ = f.do(t, http.MethodOptions, authapi.RouteLogin, nil, http.Header{"Origin": []string{"https://evil.example"}})
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestResponses_CarryRequestIDAndNoStore(t *testing.T) {
	f := setupTestFixture(t)

	resp, _ := f.do(t, http.MethodPost, authapi.RouteLogin, authapi.LoginRequest{Email: nurseEmail, Password: password},
		http.Header{"X-Request-Id": []string{"req-42"}})

	require.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestHealthzAndMetrics(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t, authapi.LoginRequest{Email: nurseEmail, Password: password})

	resp, body := f.do(t, http.MethodGet, server.RouteHealthz, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"status":"ok"`)

	resp, body = f.do(t, http.MethodGet, server.RouteMetrics, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `hms_backend_http_requests_total{code="200",method="POST"} 1`)
}
