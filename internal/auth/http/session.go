package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rentloop/rentloop/internal/auth/service"
	"github.com/rentloop/rentloop/internal/auth/store"
	"github.com/rentloop/rentloop/pkg/httpx"
	"github.com/rentloop/rentloop/pkg/slogx"
)

// SessionHandler serves the session lifecycle endpoints: login, refresh,
// logout and logout-all.
type SessionHandler struct {
	SessionService *service.SessionService
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Request body must be JSON.")
		return
	}
	if req.Username == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "username and password are required.")
		return
	}

	pair, err := h.SessionService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}

func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required.")
		return
	}

	pair, err := h.SessionService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, pair)
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required.")
		return
	}

	if err := h.SessionService.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logged out."})
}

// HandleLogoutAll resolves the user from the presented refresh credential and
// ends every session they have.
func (h *SessionHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required.")
		return
	}

	if err := h.SessionService.LogoutAll(r.Context(), req.RefreshToken); err != nil {
		h.writeSessionError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, messageResponse{Message: "All sessions logged out."})
}

// writeSessionError maps service errors onto the wire. A replay gets the same
// 401 shape as any other bad refresh token; the family and user involved are
// logged, never echoed back to whoever is holding the stolen credential.
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password.")

	case errors.Is(err, service.ErrNoPermissions):
		httpx.WriteError(w, http.StatusForbidden, "no_permissions",
			"No permissions are configured for this account type.")

	case errors.Is(err, service.ErrReplayDetected), errors.Is(err, service.ErrFamilyInvalidated):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token",
			"Session invalidated for security reasons. Please log in again.")

	case errors.Is(err, service.ErrInvalidRefresh):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_refresh_token",
			"The refresh token is invalid or expired.")

	case errors.Is(err, store.ErrUnavailable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "service_unavailable",
			"The service is temporarily unavailable. Try again shortly.")

	default:
		slogx.FromContext(r.Context()).Error("session endpoint failure", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error.")
	}
}
