package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/turnstile/internal/session/service"
	"github.com/aussiebroadwan/turnstile/internal/session/store/drivers/sqlite"
	"github.com/aussiebroadwan/turnstile/pkg/cryptox"

	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	codec, err := cryptox.NewCodec("handler-test-secret")
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	sessions := &service.SessionService{
		Store:    st,
		Codec:    codec,
		Audit:    &service.StoreAuditLog{Events: st.AuditEvents(), Logger: logger},
		Settings: service.StaticSettings(service.DefaultSettings()),
		Logger:   logger,
	}

	r := NewRouter("test", st, sessions, logger)
	r.ApplyRoutes()
	return r
}

func doJSON(t *testing.T, router *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:53412"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func issueSession(t *testing.T, router *Router, principalID string) issueResponse {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", issueRequest{PrincipalID: principalID})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp issueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	require.NotEmpty(t, resp.SessionID)
	return resp
}

func TestHandleIssueValidation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions", issueRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions", map[string]any{"bogus": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVerify(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	issued := issueSession(t, router, "user-1")

	rec := doJSON(t, router, http.MethodPost, "/v1/sessions/verify",
		verifyRequest{Token: issued.Token, MarkSeen: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, issued.SessionID, resp.Session.ID)
	require.True(t, resp.Session.Seen)
	require.False(t, resp.ShouldRotate)

	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/verify",
		verifyRequest{Token: "not-a-token"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRotate(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	issued := issueSession(t, router, "user-1")

	// Mark seen so the forced rotation is admissible.
	rec := doJSON(t, router, http.MethodPost, "/v1/sessions/verify",
		verifyRequest{Token: issued.Token, MarkSeen: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// Without force the fresh session does not rotate.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/rotate",
		rotateRequest{Token: issued.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rotateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Rotated)
	require.Empty(t, resp.Token)

	// Forced rotation issues a fresh token.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/rotate",
		rotateRequest{Token: issued.Token, Force: true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Rotated)
	require.NotEmpty(t, resp.Token)
	require.NotEqual(t, issued.Token, resp.Token)

	// Both the new and the (unseen previous) old token verify.
	for _, token := range []string{resp.Token, issued.Token} {
		rec = doJSON(t, router, http.MethodPost, "/v1/sessions/verify", verifyRequest{Token: token})
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestHandleListAndRevoke(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)
	first := issueSession(t, router, "user-1")
	_ = issueSession(t, router, "user-1")
	other := issueSession(t, router, "user-2")

	rec := doJSON(t, router, http.MethodGet, "/v1/principals/user-1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)

	rec = doJSON(t, router, http.MethodDelete, "/v1/sessions/"+first.SessionID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/sessions/"+first.SessionID, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/v1/principals/user-1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var revoked revokeAllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revoked))
	require.EqualValues(t, 1, revoked.Revoked)

	// The other principal's session is untouched.
	rec = doJSON(t, router, http.MethodPost, "/v1/sessions/verify", verifyRequest{Token: other.Token})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
