package auth

import (
	"context"
	"errors"
	"strings"
	"time"
)

// UserFinder looks up accounts. Implementations return ErrNotFound when no
// user matches.
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// Service authenticates credentials and bearer tokens.
type Service struct {
	users  UserFinder
	tokens *TokenIssuer
}

func NewService(users UserFinder, tokens *TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens}
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Login checks an email/password pair and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (Token, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Token{}, nil, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			burnPasswordCheck(password)
			return Token{}, nil, ErrInvalidCredentials
		}
		return Token{}, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Token{}, nil, ErrInvalidCredentials
	}
	if !user.Active {
		return Token{}, nil, ErrInvalidCredentials
	}
	value, exp, err := s.tokens.Issue(user)
	if err != nil {
		return Token{}, nil, err
	}
	return Token{Value: value, ExpiresAt: exp}, user, nil
}

// Authenticate validates a bearer token and loads its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := s.tokens.ParseAndValidate(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindUser(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}
	return user, nil
}
