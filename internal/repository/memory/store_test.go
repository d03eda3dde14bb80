package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/repository"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUserEmailIsCaseInsensitiveAndUnique(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Email: "Alice@Example.com"}))
	err := s.CreateUser(ctx, model.User{ID: "u2", Email: "alice@example.COM"})
	assert.ErrorIs(t, err, repository.ErrEmailExists)

	u, err := s.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "alice@example.com", u.Email)
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	verified := t0
	require.NoError(t, s.CreateUser(ctx, model.User{ID: "u1", Email: "a@b.c", EmailVerifiedAt: &verified}))

	u, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	*u.EmailVerifiedAt = t0.Add(time.Hour)

	again, err := s.FindUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, t0, *again.EmailVerifiedAt)
}

func TestLatestRefreshRecordBreaksTiesByInsertion(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRefreshRecord(ctx, model.RefreshToken{ID: "r1", UserID: "u1", CreatedAt: t0}))
	require.NoError(t, s.CreateRefreshRecord(ctx, model.RefreshToken{ID: "r0", UserID: "u1", CreatedAt: t0}))

	latest, err := s.FindLatestRefreshRecord(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "r0", latest.ID)
}

func TestDeleteRefreshRecordHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRefreshRecord(ctx, model.RefreshToken{ID: "r1", UserID: "u1", CreatedAt: t0}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DeleteRefreshRecord(ctx, "r1")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestVerificationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, id := range []string{"v1", "v2", "v3"} {
		require.NoError(t, s.CreateVerificationRecord(ctx, model.VerificationToken{
			ID: id, UserID: "u1", Token: "tok-" + id, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0.Add(time.Duration(i) * time.Second),
		}))
	}

	active, err := s.FindActiveVerificationRecord(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, "v3", active.ID)

	ok, err := s.MarkVerificationUsed(ctx, "v3", t0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkVerificationUsed(ctx, "v3", t0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteOtherVerificationRecords(ctx, "u1", "v3"))
	assert.Empty(t, s.ActiveVerificationRecords("u1", t0))

	used, err := s.FindVerificationRecordByToken(ctx, "tok-v3")
	require.NoError(t, err)
	assert.True(t, used.Used())

	_, err = s.FindVerificationRecordByToken(ctx, "tok-v1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestExpiredVerificationIsNotActive(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateVerificationRecord(ctx, model.VerificationToken{
		ID: "v1", UserID: "u1", Token: "tok", ExpiresAt: t0, CreatedAt: t0.Add(-time.Hour),
	}))

	_, err := s.FindActiveVerificationRecord(ctx, "u1", t0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTicketStatusUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateTicket(ctx, model.Ticket{ID: "t1", Number: "N1", RequesterEmail: "G@x.io", Status: model.TicketOpen}))

	require.NoError(t, s.UpdateTicketStatus(ctx, "t1", model.TicketResolved, t0))
	got, err := s.FindTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TicketResolved, got.Status)
	assert.Equal(t, "g@x.io", got.RequesterEmail)

	assert.ErrorIs(t, s.UpdateTicketStatus(ctx, "t2", model.TicketClosed, t0), repository.ErrNotFound)
	assert.ErrorIs(t, s.CreateTicket(ctx, model.Ticket{ID: "t3", Number: "N1"}), repository.ErrConflict)
}
