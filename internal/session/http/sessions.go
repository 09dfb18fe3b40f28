package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/turnstile/internal/session/domain"
	"github.com/aussiebroadwan/turnstile/internal/session/service"
	"github.com/aussiebroadwan/turnstile/internal/session/store"
	"github.com/aussiebroadwan/turnstile/pkg/httpx"
)

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	Sessions *service.SessionService
	Logger   *slog.Logger
}

type sessionResponse struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	Seen        bool       `json:"seen"`
	SeenAt      *time.Time `json:"seen_at,omitempty"`
	RotatedAt   time.Time  `json:"rotated_at"`
	UserAgent   string     `json:"user_agent,omitempty"`
	ClientIP    string     `json:"client_ip,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toSessionResponse(s domain.Session) sessionResponse {
	return sessionResponse{
		ID:          s.ID,
		PrincipalID: s.PrincipalID,
		Seen:        s.Seen,
		SeenAt:      s.SeenAt,
		RotatedAt:   s.RotatedAt,
		UserAgent:   s.UserAgent,
		ClientIP:    s.ClientIP,
		CreatedAt:   s.CreatedAt,
	}
}

// clientMeta pulls the caller-visible client context off the request. The
// user agent of the end client may be forwarded explicitly by the fronting
// service; the request's own header is the fallback.
func clientMeta(r *http.Request) domain.ClientMeta {
	ua := r.Header.Get("X-Forwarded-User-Agent")
	if ua == "" {
		ua = r.UserAgent()
	}
	return domain.ClientMeta{
		UserAgent: ua,
		ClientIP:  httpx.IPKeyExtractor(r),
	}
}

type issueRequest struct {
	PrincipalID string `json:"principal_id"`
	Elevated    bool   `json:"elevated"`
}

type issueResponse struct {
	SessionID   string    `json:"session_id"`
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id"`
	RotatedAt   time.Time `json:"rotated_at"`
}

// HandleIssue creates a session for an already-authenticated principal and
// returns the raw token. The token appears in this response and nowhere
// else.
func (h *SessionHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PrincipalID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "principal_id is required")
		return
	}

	issued, err := h.Sessions.Issue(r.Context(),
		domain.Principal{ID: req.PrincipalID, Elevated: req.Elevated},
		clientMeta(r),
	)
	if err != nil {
		h.Logger.Error("failed to issue session", "principal_id", req.PrincipalID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, issueResponse{
		SessionID:   issued.Session.ID,
		Token:       issued.Token,
		PrincipalID: issued.Session.PrincipalID,
		RotatedAt:   issued.Session.RotatedAt,
	})
}

type verifyRequest struct {
	Token    string `json:"token"`
	MarkSeen bool   `json:"mark_seen"`
	Path     string `json:"path,omitempty"`
}

type verifyResponse struct {
	Session      sessionResponse `json:"session"`
	ShouldRotate bool            `json:"should_rotate"`
}

// HandleVerify resolves a raw token. Unknown, expired and replay-suspect
// tokens are indistinguishable to the caller: all return 401.
func (h *SessionHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	sess, err := h.Sessions.Verify(r.Context(), req.Token, service.VerifyOptions{
		MarkSeen: req.MarkSeen,
		Path:     req.Path,
		Meta:     clientMeta(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrNotAuthenticated) {
			httpx.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		h.Logger.Error("failed to verify token", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to verify token")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, verifyResponse{
		Session:      toSessionResponse(sess),
		ShouldRotate: h.Sessions.ShouldRotate(sess, time.Now().UTC()),
	})
}

type rotateRequest struct {
	Token string `json:"token"`
	// Force skips the rotation-interval policy check. The safeguard window
	// still applies.
	Force bool `json:"force"`
}

type rotateResponse struct {
	Rotated bool            `json:"rotated"`
	Token   string          `json:"token,omitempty"`
	Session sessionResponse `json:"session"`
}

// HandleRotate verifies the presented token, applies the rotation policy
// and rotates when due. A lost rotation race reports rotated=false with the
// existing session state.
func (h *SessionHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "token is required")
		return
	}

	meta := clientMeta(r)
	sess, err := h.Sessions.Verify(r.Context(), req.Token, service.VerifyOptions{
		Path: r.URL.Path,
		Meta: meta,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotAuthenticated) {
			httpx.WriteError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		h.Logger.Error("failed to verify token for rotation", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to rotate session")
		return
	}

	if !req.Force && !h.Sessions.ShouldRotate(sess, time.Now().UTC()) {
		httpx.WriteJSON(w, http.StatusOK, rotateResponse{
			Rotated: false,
			Session: toSessionResponse(sess),
		})
		return
	}

	token, rotated, err := h.Sessions.Rotate(r.Context(), &sess, meta)
	if err != nil {
		h.Logger.Error("failed to rotate session", "session_id", sess.ID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to rotate session")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rotateResponse{
		Rotated: rotated,
		Token:   token,
		Session: toSessionResponse(sess),
	})
}

type listResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("id")

	sessions, err := h.Sessions.ListSessions(r.Context(), principalID)
	if err != nil {
		h.Logger.Error("failed to list sessions", "principal_id", principalID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Sessions: out})
}

func (h *SessionHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.Sessions.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "session not found")
			return
		}
		h.Logger.Error("failed to revoke session", "session_id", id, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type revokeAllResponse struct {
	Revoked int64 `json:"revoked"`
}

func (h *SessionHandler) HandleRevokeAll(w http.ResponseWriter, r *http.Request) {
	principalID := r.PathValue("id")

	n, err := h.Sessions.RevokeAll(r.Context(), principalID)
	if err != nil {
		h.Logger.Error("failed to revoke sessions", "principal_id", principalID, "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, revokeAllResponse{Revoked: n})
}
