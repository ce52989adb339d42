// Package store persists accounts, sessions, and the call-history journal.
// Two implementations share the Store interface: Postgres (pgx) for
// production and an in-memory store for tests and DSN-less dev runs.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNameTaken is returned by CreateUser when the username exists.
	ErrNameTaken = errors.New("store: username already taken")
	// ErrNotFound is returned when a user lookup misses.
	ErrNotFound = errors.New("store: not found")
	// ErrSessionInvalid is returned for unknown or expired session tokens.
	ErrSessionInvalid = errors.New("store: session expired or unknown")
)

// User is a durable account record. Accounts are created on registration
// and never deleted by the core.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	CreatedAt    time.Time
}

// CallRecord is one row of the call-history journal. The journal is
// append-plus-update-on-end: a row is inserted at initiation and its
// status/end_time/duration updated exactly once when the call leaves the
// in-memory table.
type CallRecord struct {
	CallID   string
	FromUser string
	ToUser   string
	CallType string
	Status   string
}

// Journal statuses recorded in call_history.
const (
	CallInitiated     = "initiated"
	CallAccepted      = "accepted"
	CallRejected      = "rejected"
	CallEnded         = "ended"
	CallEndedAbruptly = "ended_abruptly"
	CallTimeout       = "timeout"
	CallAborted       = "aborted"
)

// Store is the persistence seam. All methods are safe for concurrent use.
type Store interface {
	// CreateUser inserts an account; ErrNameTaken if the username exists.
	CreateUser(ctx context.Context, username, passwordHash, email string) (int64, error)
	// UserByName fetches an account by username; ErrNotFound on miss.
	UserByName(ctx context.Context, username string) (*User, error)

	// CreateSession revokes any prior session for the account, then inserts
	// the token with the given expiry. At most one session per account.
	CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error
	// SessionUser resolves a token to its account id. Expired tokens are
	// deleted lazily on lookup and reported as ErrSessionInvalid.
	SessionUser(ctx context.Context, token string) (int64, error)
	// DeleteSession removes a token; deleting an unknown token is a no-op.
	DeleteSession(ctx context.Context, token string) error

	// AppendCall inserts a journal row with the initial status.
	AppendCall(ctx context.Context, rec CallRecord) error
	// MarkCall updates only the status of a live call's row (ringing ->
	// accepted); end_time and duration stay untouched.
	MarkCall(ctx context.Context, callID, status string) error
	// FinishCall stamps the terminal status. duration < 0 leaves the stored
	// duration untouched (rejected/timeout rows keep their zero default).
	FinishCall(ctx context.Context, callID, status string, endTime time.Time, duration int) error

	Close()
}
