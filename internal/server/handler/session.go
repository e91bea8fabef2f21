package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/orderdesk/internal/dashboard"
)

// SessionService is what the session endpoints need from the dashboard.
type SessionService interface {
	Session() dashboard.SessionView
	Login(ctx context.Context, username, password string) error
	Register(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
}

// SessionHandler serves sign-in, registration and sign-out.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Get returns the gate state and signed-in user.
// GET /api/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Session())
}

// Login signs in.
// POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.sessions.Login(r.Context(), req.Username, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Session())
}

// Register creates an account and signs in.
// POST /api/session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.sessions.Register(r.Context(), req.Username, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.sessions.Session())
}

// Logout signs out. The session is anonymous afterwards even if the stored
// token could not be removed.
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "handler: logout left a stored token",
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, h.sessions.Session())
}
