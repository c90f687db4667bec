package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/auth"
)

// Login exchanges credentials for a bearer token.
type Login interface {
	Login(ctx context.Context, email, password string) (auth.Token, *auth.User, error)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type tokenResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	token, user, err := a.login.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.log.Info("login rejected", zap.String("request_id", RequestIDFromContext(r)), zap.String("remote_ip", clientIP(r)))
			a.writeError(w, r, apierr.Wrap(apierr.KindUnauthenticated, "invalid credentials", err))
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token.Value,
		TokenType: "Bearer",
		ExpiresAt: token.ExpiresAt.UTC(),
		User:      userResponse{ID: user.ID, Email: user.Email, Name: user.Name},
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		a.writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: user.ID, Email: user.Email, Name: user.Name})
}
