// ABOUTME: Tests for session and message persistence
// ABOUTME: Covers version bumps, per-version history and duplicate slots

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &Session{ID: "0a0b", Version: 1}))

	got, err := s.GetSession(ctx, "0a0b")
	require.NoError(t, err)
	assert.Equal(t, "0a0b", got.ID)
	assert.Equal(t, uint64(1), got.Version)
	assert.False(t, got.CreatedAt.IsZero())

	// Saving again keeps the stored version.
	require.NoError(t, s.SaveSession(ctx, &Session{ID: "0a0b", Version: 9}))
	got, err = s.GetSession(ctx, "0a0b")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
}

func TestSessions_GetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSession(context.Background(), "ffff")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSessions_BumpVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &Session{ID: "0a0b"}))
	require.NoError(t, s.BumpVersion(ctx, "0a0b", 2))

	got, err := s.GetSession(ctx, "0a0b")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)

	assert.ErrorIs(t, s.BumpVersion(ctx, "ffff", 1), ErrNotFound)
}

func TestSessions_MessagesByVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, &Session{ID: "0a0b"}))

	for seq, role := range []string{"system", "assistant", "user"} {
		require.NoError(t, s.AppendMessage(ctx, &SessionMessage{
			SessionID:   "0a0b",
			Version:     1,
			Seq:         seq,
			Role:        role,
			ContentJSON: `{"role":"` + role + `"}`,
		}))
	}
	require.NoError(t, s.AppendMessage(ctx, &SessionMessage{
		SessionID: "0a0b", Version: 2, Seq: 0, Role: "system", ContentJSON: `{}`,
	}))

	v1, err := s.ListMessages(ctx, "0a0b", 1)
	require.NoError(t, err)
	require.Len(t, v1, 3)
	assert.Equal(t, "system", v1[0].Role)
	assert.Equal(t, "user", v1[2].Role)
	assert.Equal(t, 2, v1[2].Seq)
	assert.NotEmpty(t, v1[0].ID)

	v2, err := s.ListMessages(ctx, "0a0b", 2)
	require.NoError(t, err)
	assert.Len(t, v2, 1)

	none, err := s.ListMessages(ctx, "0a0b", 7)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessions_DuplicateSlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSession(ctx, &Session{ID: "0a0b"}))

	msg := func() *SessionMessage {
		return &SessionMessage{SessionID: "0a0b", Version: 1, Seq: 0, Role: "user", ContentJSON: `{}`}
	}
	require.NoError(t, s.AppendMessage(ctx, msg()))
	err := s.AppendMessage(ctx, msg())
	assert.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestSessions_MessageRequiresSession(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendMessage(context.Background(), &SessionMessage{
		SessionID: "missing", Version: 1, Seq: 0, Role: "user", ContentJSON: `{}`,
	})
	assert.Error(t, err, "foreign key should reject messages for unknown sessions")
}
