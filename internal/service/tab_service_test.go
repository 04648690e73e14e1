package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/metrics"
	repoPostgres "github.com/megayours/pfp-inventory/internal/repository/postgres"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/testutil"
	"github.com/megayours/pfp-inventory/internal/upload"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

type fixture struct {
	db   *testutil.TestDB
	node *testutil.ChainNode
	opts service.Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	node := testutil.NewChainNode(t)
	cfg := testutil.TestConfig(node)
	return &fixture{
		db:   db,
		node: node,
		opts: service.Options{
			Config:        cfg,
			Repos:         repoPostgres.NewRepositories(db.DB),
			Metrics:       metrics.New("test"),
			Logger:        logging.NewNop(),
			Store:         upload.NewFilehub(cfg.GatewayURL, 16),
			ClientOptions: []chain.Option{chain.WithStatusPollInterval(2 * time.Millisecond)},
		},
	}
}

// restart builds a new service over the same database, as a process restart would.
func (f *fixture) restart() *service.TabService {
	return service.NewTabService(f.opts)
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestTabService_ValidateToken(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	opened, err := svc.Open(ctx, "firefox")
	require.NoError(t, err)
	secret := f.opts.Config.JWTSecret
	id := opened.Tab.ID.String()

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "issued token", token: opened.Token},
		{name: "expired", token: signToken(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": id, "exp": time.Now().Add(-time.Minute).Unix()}), wantErr: true},
		{name: "other secret", token: signToken(t, "another-secret", jwt.SigningMethodHS256, jwt.MapClaims{"sub": id, "exp": time.Now().Add(time.Hour).Unix()}), wantErr: true},
		{name: "subject is not a tab id", token: signToken(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()}), wantErr: true},
		{name: "missing subject", token: signToken(t, secret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}), wantErr: true},
		{name: "garbage", token: "a.b.c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateToken(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidTab)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, opened.Tab.ID, got)
		})
	}
}

func TestTabService_Get(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	_, err := svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrTabNotFound)

	row := testutil.NewTabBuilder().WithUserAgent("firefox").Build(t, f.db.DB)
	_, live := svc.Lookup(row.ID)
	assert.False(t, live)

	first, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	again, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Same(t, first, again)

	// A new process rebuilds a fresh runtime from the stored row.
	other, err := f.restart().Get(ctx, row.ID)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, row.ID, other.ID)
	assert.Equal(t, domain.AuthStatusDisconnected, other.Primary.State().Status)
}

func TestTabService_ReapIdle(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	stale := testutil.NewTabBuilder().WithLastSeen(time.Now().Add(-48*time.Hour)).Build(t, f.db.DB)
	fresh := testutil.NewTabBuilder().Build(t, f.db.DB)

	_, err := svc.Get(ctx, fresh.ID)
	require.NoError(t, err)

	n, err := svc.ReapIdle(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, domain.ErrTabNotFound)
	_, live := svc.Lookup(fresh.ID)
	assert.True(t, live)
}

func TestTabService_Close(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	opened, err := svc.Open(ctx, "")
	require.NoError(t, err)
	_, err = svc.Get(ctx, opened.Tab.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx, opened.Tab.ID))
	_, live := svc.Lookup(opened.Tab.ID)
	assert.False(t, live)

	err = svc.Close(ctx, opened.Tab.ID)
	assert.True(t, errors.Is(err, domain.ErrTabNotFound))
}

func TestTab_LoginKeysSurviveRestartOnlyOnPrimary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	f.node.RegisterAccount(signer.Address())

	svc := f.restart()
	opened, err := svc.Open(ctx, "firefox")
	require.NoError(t, err)
	tab, err := svc.Get(ctx, opened.Tab.ID)
	require.NoError(t, err)

	require.NoError(t, tab.ConnectWallet(ctx, signer))
	require.NoError(t, tab.Primary.Connect(ctx))
	require.NoError(t, tab.Hub.Connect(ctx))
	testutil.AssertSessionInvariant(t, tab.Primary.State())
	assert.Equal(t, domain.AuthStatusConnected, tab.Hub.State().Status)

	// Primary keys are persisted per tab, hub keys live only in memory.
	logger, hook := logtest.NewNullLogger()
	f.opts.Logger = logger
	restored, err := f.restart().Get(ctx, opened.Tab.ID)
	require.NoError(t, err)
	var restoring *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Restoring tab state" {
			restoring = e
		}
	}
	require.NotNil(t, restoring)
	assert.Equal(t, 1, restoring.Data["login_keys"])
	require.NoError(t, restored.ConnectWallet(ctx, signer))
	assert.Equal(t, domain.AuthStatusConnected, restored.Primary.State().Status)
	assert.Equal(t, domain.AuthStatusDisconnected, restored.Hub.State().Status)
	testutil.AssertSessionInvariant(t, restored.Hub.State())

	require.NoError(t, restored.Logout(ctx))
	keys, err := f.opts.Repos.LoginKey.ListByTab(ctx, opened.Tab.ID)
	require.NoError(t, err)
	assert.Empty(t, keys)

	// With the keys gone a reconnect only finds the account.
	require.NoError(t, restored.ConnectWallet(ctx, signer))
	assert.Equal(t, domain.AuthStatusDisconnected, restored.Primary.State().Status)
	assert.False(t, restored.Primary.State().HasSession)
}

func TestTab_SwitchingWalletDisconnectsPrevious(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	first, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	second, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	f.node.RegisterAccount(first.Address())

	opened, err := svc.Open(ctx, "")
	require.NoError(t, err)
	tab, err := svc.Get(ctx, opened.Tab.ID)
	require.NoError(t, err)
	require.NoError(t, tab.ConnectWallet(ctx, first))
	require.NoError(t, tab.Primary.Connect(ctx))

	require.NoError(t, tab.ConnectWallet(ctx, first), "same wallet again")
	assert.Equal(t, domain.AuthStatusConnected, tab.Primary.State().Status)

	var mu sync.Mutex
	var seen []auth.State
	tab.Primary.OnChange(func(s auth.State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	require.NoError(t, tab.ConnectWallet(ctx, second))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Empty(t, seen[0].Wallet, "previous wallet is dropped before the new one is handed over")
	assert.Equal(t, domain.AuthStatusDisconnected, seen[0].Status)

	s := tab.Primary.State()
	assert.Equal(t, second.Address(), s.Wallet)
	assert.Equal(t, domain.AuthStatusDisconnected, s.Status)
	assert.False(t, s.HasSession)
	assert.Equal(t, tab.Primary.State().Wallet, tab.Hub.State().Wallet)

	assert.ErrorIs(t, tab.ConnectWallet(ctx, nil), domain.ErrWalletUnavailable)
}

func TestTab_UploadWithoutSession(t *testing.T) {
	f := newFixture(t)
	svc := f.restart()
	ctx := context.Background()

	opened, err := svc.Open(ctx, "")
	require.NoError(t, err)
	tab, err := svc.Get(ctx, opened.Tab.ID)
	require.NoError(t, err)

	_, err = tab.UploadModel(ctx, service.UploadInput{
		TokenUID: domain.HexBytes{0x01},
		Domain:   "arena",
		FileName: "hero.glb",
		Data:     []byte("x"),
	})
	assert.ErrorIs(t, err, domain.ErrNoSession)

	_, err = tab.UploadModel(ctx, service.UploadInput{FileName: "hero.txt", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidFileType)
	assert.Equal(t, domain.UploadProgress{}, tab.Tracker.Snapshot())
}
