// Package auth implements registration, login, and session validation on
// top of the store. Passwords are bcrypt verifiers and are never logged;
// session tokens are 32 random bytes in unpadded URL-safe base64.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dialog-im/dialogd/internal/store"
)

// ErrBadCredentials covers both unknown-user and wrong-password so the
// reply cannot be used to probe for account existence.
var ErrBadCredentials = errors.New("auth: invalid username or password")

// Service issues and validates sessions against the store.
type Service struct {
	store      store.Store
	sessionTTL time.Duration
}

// NewService wires the store. sessionTTL <= 0 falls back to 24 hours.
func NewService(st store.Store, sessionTTL time.Duration) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{store: st, sessionTTL: sessionTTL}
}

// Register creates an account. store.ErrNameTaken passes through so the
// handler can map it to the domain status.
func (s *Service) Register(ctx context.Context, username, password, email string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	_, err = s.store.CreateUser(ctx, username, string(hash), email)
	return err
}

// Login verifies the password and issues a fresh session token, revoking
// any prior session of the same account. bcrypt's compare is constant-time
// on the hash.
func (s *Service) Login(ctx context.Context, username, password string) (userID int64, token string, err error) {
	u, err := s.store.UserByName(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, "", ErrBadCredentials
		}
		return 0, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return 0, "", ErrBadCredentials
	}
	token, err = newToken()
	if err != nil {
		return 0, "", err
	}
	if err := s.store.CreateSession(ctx, u.ID, token, time.Now().Add(s.sessionTTL)); err != nil {
		return 0, "", err
	}
	return u.ID, token, nil
}

// ValidateSession resolves a bearer token to its account id.
// store.ErrSessionInvalid passes through for expired or unknown tokens.
func (s *Service) ValidateSession(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, store.ErrSessionInvalid
	}
	return s.store.SessionUser(ctx, token)
}

// Logout deletes the session; unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
