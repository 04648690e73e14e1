package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/repository"
	"github.com/megayours/pfp-inventory/internal/repository/postgres"
	"github.com/megayours/pfp-inventory/internal/testutil"
)

func TestTabRepository_GetByID(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewTabRepository(testDB.DB)
	ctx := context.Background()

	tab := testutil.NewTabBuilder().WithUserAgent("firefox").Build(t, testDB.DB)

	tests := []struct {
		name    string
		id      uuid.UUID
		wantErr error
	}{
		{name: "existing tab", id: tab.ID},
		{name: "unknown tab", id: uuid.New(), wantErr: repository.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetByID(ctx, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tab.ID, got.ID)
			assert.Equal(t, "firefox", got.UserAgent)
		})
	}
}

func TestTabRepository_Touch(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewTabRepository(testDB.DB)
	ctx := context.Background()

	tab := testutil.NewTabBuilder().Build(t, testDB.DB)
	later := tab.LastSeenAt.Add(time.Hour)

	require.NoError(t, repo.Touch(ctx, tab.ID, later))
	got, err := repo.GetByID(ctx, tab.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, later, got.LastSeenAt, time.Millisecond)

	assert.ErrorIs(t, repo.Touch(ctx, uuid.New(), later), repository.ErrNotFound)
}

func TestTabRepository_DeleteRemovesLoginKeys(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	tabs := postgres.NewTabRepository(testDB.DB)
	keys := postgres.NewLoginKeyRepository(testDB.DB)
	ctx := context.Background()

	tab := testutil.NewTabBuilder().Build(t, testDB.DB)
	require.NoError(t, keys.Upsert(ctx, &domain.LoginKey{
		TabID: tab.ID, Chain: domain.ChainPrimary, AccountID: "aa", PrivateKey: "01",
	}))

	require.NoError(t, tabs.Delete(ctx, tab.ID))

	_, err := tabs.GetByID(ctx, tab.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	remaining, err := keys.ListByTab(ctx, tab.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	assert.ErrorIs(t, tabs.Delete(ctx, tab.ID), repository.ErrNotFound)
}

func TestTabRepository_DeleteIdleSince(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewTabRepository(testDB.DB)
	ctx := context.Background()

	now := time.Now()
	stale := testutil.NewTabBuilder().WithLastSeen(now.Add(-48*time.Hour)).Build(t, testDB.DB)
	fresh := testutil.NewTabBuilder().WithLastSeen(now).Build(t, testDB.DB)

	removed, err := repo.DeleteIdleSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = repo.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
