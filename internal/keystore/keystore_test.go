package keystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/keystore"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/repository/postgres"
	"github.com/megayours/pfp-inventory/internal/testutil"
)

func TestKeyPair_SignsRecoverably(t *testing.T) {
	kp, err := keystore.GenerateKeyPair()
	require.NoError(t, err)
	assert.Len(t, kp.ID(), 33)

	restored, err := keystore.KeyPairFromHex(kp.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PubKeyHex(), restored.PubKeyHex())

	sig, err := kp.SignDigest(make([]byte, 32))
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	_, err = keystore.KeyPairFromHex("0x1234")
	assert.Error(t, err)
}

func TestKeyPair_HasFlags(t *testing.T) {
	kp := &keystore.KeyPair{Flags: []string{"A", "T"}}
	tests := []struct {
		want []string
		ok   bool
	}{
		{want: nil, ok: true},
		{want: []string{"T"}, ok: true},
		{want: []string{"A", "T"}, ok: true},
		{want: []string{"T", "X"}, ok: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, kp.HasFlags(tt.want), "flags %v", tt.want)
	}
}

func exerciseStore(t *testing.T, store keystore.LoginKeyStore) {
	t.Helper()
	ctx := context.Background()

	got, err := store.Get(ctx, "acc")
	require.NoError(t, err)
	assert.Nil(t, got)

	first, err := store.Generate(ctx, "acc", []string{"T"})
	require.NoError(t, err)
	got, err = store.Get(ctx, "acc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.PubKeyHex(), got.PubKeyHex())
	assert.Equal(t, []string{"T"}, got.Flags)

	second, err := store.Generate(ctx, "acc", []string{"T"})
	require.NoError(t, err)
	assert.NotEqual(t, first.PubKeyHex(), second.PubKeyHex())
	got, err = store.Get(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, second.PubKeyHex(), got.PubKeyHex())

	_, err = store.Generate(ctx, "other", nil)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "acc"))
	got, err = store.Get(ctx, "acc")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.ClearAll(ctx))
	got, err = store.Get(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, keystore.NewMemory())
}

func TestPersistent(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewLoginKeyRepository(testDB.DB)
	tab := testutil.NewTabBuilder().Build(t, testDB.DB)

	exerciseStore(t, keystore.NewPersistent(repo, tab.ID, domain.ChainPrimary, logging.NewNop()))
}

func TestPersistent_SurvivesNewStoreInstance(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewLoginKeyRepository(testDB.DB)
	tab := testutil.NewTabBuilder().Build(t, testDB.DB)
	ctx := context.Background()

	kp, err := keystore.NewPersistent(repo, tab.ID, domain.ChainPrimary, logging.NewNop()).Generate(ctx, "acc", []string{"T"})
	require.NoError(t, err)

	reopened := keystore.NewPersistent(repo, tab.ID, domain.ChainPrimary, logging.NewNop())
	got, err := reopened.Get(ctx, "acc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, kp.PubKeyHex(), got.PubKeyHex())

	otherTab := keystore.NewPersistent(repo, uuid.New(), domain.ChainPrimary, logging.NewNop())
	got, err = otherTab.Get(ctx, "acc")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPersistent_UnreadableRows(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	repo := postgres.NewLoginKeyRepository(testDB.DB)
	tab := testutil.NewTabBuilder().Build(t, testDB.DB)
	ctx := context.Background()

	valid, err := keystore.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name       string
		privateKey string
		flags      datatypes.JSON
		wantKey    bool
		wantLog    string
	}{
		{name: "bad private key", privateKey: "not-hex", flags: datatypes.JSON(`["T"]`), wantKey: false, wantLog: "Ignoring unreadable login key"},
		{name: "bad flags", privateKey: valid.PrivateKeyHex(), flags: datatypes.JSON(`{"T":true}`), wantKey: true, wantLog: "Ignoring unreadable login key flags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := logtest.NewNullLogger()
			store := keystore.NewPersistent(repo, tab.ID, domain.ChainPrimary, logger)
			require.NoError(t, repo.Upsert(ctx, &domain.LoginKey{
				TabID:      tab.ID,
				Chain:      domain.ChainPrimary,
				AccountID:  tt.name,
				PrivateKey: tt.privateKey,
				Flags:      tt.flags,
				CreatedAt:  time.Now(),
			}))

			got, err := store.Get(ctx, tt.name)
			require.NoError(t, err)
			if tt.wantKey {
				require.NotNil(t, got)
				assert.Empty(t, got.Flags)
				assert.False(t, got.HasFlags([]string{"T"}))
			} else {
				assert.Nil(t, got)
			}

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, tt.wantLog, entry.Message)
			assert.Equal(t, tt.name, entry.Data["account_id"])
		})
	}
}
