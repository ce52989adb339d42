package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	password_hash TEXT NOT NULL,
	email TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sessions (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users (id),
	session_token TEXT UNIQUE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS call_history (
	id BIGSERIAL PRIMARY KEY,
	call_id TEXT NOT NULL,
	from_user TEXT NOT NULL,
	to_user TEXT NOT NULL,
	call_type TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL DEFAULT now(),
	end_time TIMESTAMPTZ,
	status TEXT NOT NULL,
	duration INTEGER NOT NULL DEFAULT 0
);
`

// Postgres is the pgx-backed Store. The pool serializes access to the
// database; no additional locking is needed on this side.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings, and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash, email string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, email) VALUES ($1, $2, $3) RETURNING id`,
		username, passwordHash, email,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrNameTaken
		}
		return 0, fmt.Errorf("store: create user: %w", err)
	}
	return id, nil
}

func (p *Postgres) UserByName(ctx context.Context, username string) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, COALESCE(email, ''), created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: user by name: %w", err)
	}
	return &u, nil
}

func (p *Postgres) CreateSession(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin session tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("store: revoke sessions: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (user_id, session_token, expires_at) VALUES ($1, $2, $3)`,
		userID, token, expiresAt,
	); err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) SessionUser(ctx context.Context, token string) (int64, error) {
	var userID int64
	var expiresAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE session_token = $1`,
		token,
	).Scan(&userID, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSessionInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("store: session lookup: %w", err)
	}
	if time.Now().After(expiresAt) {
		// Lazy expiry: the row dies on the lookup that finds it stale.
		_, _ = p.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
		return 0, ErrSessionInvalid
	}
	return userID, nil
}

func (p *Postgres) DeleteSession(ctx context.Context, token string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

func (p *Postgres) AppendCall(ctx context.Context, rec CallRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO call_history (call_id, from_user, to_user, call_type, status) VALUES ($1, $2, $3, $4, $5)`,
		rec.CallID, rec.FromUser, rec.ToUser, rec.CallType, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("store: append call: %w", err)
	}
	return nil
}

func (p *Postgres) MarkCall(ctx context.Context, callID, status string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE call_history SET status = $1 WHERE call_id = $2`,
		status, callID,
	)
	if err != nil {
		return fmt.Errorf("store: mark call: %w", err)
	}
	return nil
}

func (p *Postgres) FinishCall(ctx context.Context, callID, status string, endTime time.Time, duration int) error {
	var err error
	if duration >= 0 {
		_, err = p.pool.Exec(ctx,
			`UPDATE call_history SET status = $1, end_time = $2, duration = $3 WHERE call_id = $4`,
			status, endTime, duration, callID,
		)
	} else {
		_, err = p.pool.Exec(ctx,
			`UPDATE call_history SET status = $1, end_time = $2 WHERE call_id = $3`,
			status, endTime, callID,
		)
	}
	if err != nil {
		return fmt.Errorf("store: finish call: %w", err)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}
