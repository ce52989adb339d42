package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateUserRejectsDuplicates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	id, err := m.CreateUser(ctx, "alice", "hash1", "a@example.com")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = m.CreateUser(ctx, "alice", "hash2", "other@example.com")
	assert.ErrorIs(t, err, ErrNameTaken)

	// The original record is untouched.
	u, err := m.UserByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "hash1", u.PasswordHash)
}

func TestMemoryUserByNameMiss(t *testing.T) {
	m := NewMemory()
	_, err := m.UserByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySingleSessionPerAccount(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.CreateUser(ctx, "alice", "h", "")
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, m.CreateSession(ctx, id, "tok1", expiry))
	require.NoError(t, m.CreateSession(ctx, id, "tok2", expiry))

	assert.Equal(t, 1, m.SessionCount(id))

	_, err = m.SessionUser(ctx, "tok1")
	assert.ErrorIs(t, err, ErrSessionInvalid)

	got, err := m.SessionUser(ctx, "tok2")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestMemorySessionLazyExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.CreateUser(ctx, "alice", "h", "")
	require.NoError(t, err)

	require.NoError(t, m.CreateSession(ctx, id, "tok", time.Now().Add(-time.Minute)))
	_, err = m.SessionUser(ctx, "tok")
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, 0, m.SessionCount(id))
}

func TestMemoryDeleteSessionUnknownTokenIsNoop(t *testing.T) {
	m := NewMemory()
	assert.NoError(t, m.DeleteSession(context.Background(), "never-issued"))
}

func TestMemoryCallJournalLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := CallRecord{CallID: "c1", FromUser: "alice", ToUser: "bob", CallType: "audio", Status: CallInitiated}
	require.NoError(t, m.AppendCall(ctx, rec))

	status, ok := m.CallStatus("c1")
	require.True(t, ok)
	assert.Equal(t, CallInitiated, status)

	require.NoError(t, m.MarkCall(ctx, "c1", CallAccepted))
	status, _ = m.CallStatus("c1")
	assert.Equal(t, CallAccepted, status)

	require.NoError(t, m.FinishCall(ctx, "c1", CallEnded, time.Now(), 42))
	status, _ = m.CallStatus("c1")
	assert.Equal(t, CallEnded, status)

	// Unknown ids are a no-op, matching the update-only journal semantics.
	assert.NoError(t, m.FinishCall(ctx, "ghost", CallEnded, time.Now(), 1))
}
