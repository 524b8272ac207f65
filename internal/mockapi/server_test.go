package mockapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeTestRequest(t *testing.T, s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func TestLoginAndRefreshRotation(t *testing.T) {
	s := New(WithUser("admin", "secret"))

	rr := executeTestRequest(t, s, http.MethodPost, "/auth/login", `{"username":"admin","password":"wrong"}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = executeTestRequest(t, s, http.MethodPost, "/auth/login", `{"username":"admin","password":"secret"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var tokens tokenRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)

	rr = executeTestRequest(t, s, http.MethodGet, "/suppliers?page=2", "", tokens.AccessToken)
	require.Equal(t, http.StatusOK, rr.Code)
	var echo EchoRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &echo))
	assert.Equal(t, "admin", echo.User)
	assert.Equal(t, "/suppliers", echo.Path)
	assert.Equal(t, []string{"2"}, echo.Query["page"])

	s.ExpireAccessTokens()
	rr = executeTestRequest(t, s, http.MethodGet, "/suppliers", "", tokens.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, int64(1), s.Unauthorized())

	body := `{"refresh_token":"` + tokens.RefreshToken + `"}`
	rr = executeTestRequest(t, s, http.MethodPost, "/auth/refresh", body, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rotated tokenRsp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// refresh tokens are single use
	rr = executeTestRequest(t, s, http.MethodPost, "/auth/refresh", body, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, int64(2), s.RefreshCalls())

	rr = executeTestRequest(t, s, http.MethodGet, "/suppliers", "", rotated.AccessToken)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestFailRefreshAndRejectAll(t *testing.T) {
	s := New()
	access, refresh := s.IssueTokens("ops")

	s.SetFailRefresh(true)
	rr := executeTestRequest(t, s, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	s.SetRejectAll(true)
	rr = executeTestRequest(t, s, http.MethodGet, "/orders", "", access)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatusAndPlain(t *testing.T) {
	s := New()
	access, _ := s.IssueTokens("ops")

	rr := executeTestRequest(t, s, http.MethodGet, "/status/404", "", access)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"result":0,"error":"status 404"}`, rr.Body.String())

	rr = executeTestRequest(t, s, http.MethodGet, "/plain", "", access)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pong", rr.Body.String())

	rr = executeTestRequest(t, s, http.MethodGet, "/version", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), APIVersion)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := New(WithTokenTTL(-time.Minute))
	access, refresh := s.IssueTokens("admin")

	rr := executeTestRequest(t, s, http.MethodGet, "/suppliers", "", access)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	// refresh tokens outlive access tokens
	rr = executeTestRequest(t, s, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, rr.Code)
}
