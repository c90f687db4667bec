package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"restgen.dev/internal/apierr"
	"restgen.dev/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticator resolves a bearer token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.User, error)
}

// authenticate attaches the token's user to the context. Requests without an
// Authorization header continue as guests; a bad token is rejected outright.
func (a *API) authenticate(next http.Handler) http.Handler {
	if a.authn == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeader)
		if r.Method == http.MethodOptions || strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			a.writeError(w, r, apierr.Wrap(apierr.KindUnauthenticated, err.Error(), auth.ErrInvalidToken))
			return
		}
		user, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				a.writeError(w, r, apierr.Wrap(apierr.KindUnauthenticated, "invalid token", err))
				return
			}
			a.writeError(w, r, err)
			return
		}

		ctx := auth.ContextWithUser(r.Context(), user)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireUser rejects guests. Models declaring the auth middleware get it on
// every route, public actions included.
func (a *API) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserFromContext(r.Context()); !ok {
			a.writeError(w, r, auth.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
