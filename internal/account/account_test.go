package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/keystore"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/testutil"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

type fixture struct {
	node       *testutil.ChainNode
	signer     *wallet.LocalSigner
	interactor *account.Interactor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node := testutil.NewChainNode(t)
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)

	client, err := chain.NewClient(context.Background(), node.Settings(), logging.NewNop(),
		chain.WithStatusPollInterval(time.Millisecond))
	require.NoError(t, err)
	evm, err := account.NewEVMKeyStore(signer)
	require.NoError(t, err)

	return &fixture{
		node:       node,
		signer:     signer,
		interactor: account.NewInteractor(client, evm, logging.NewNop()),
	}
}

func TestNewEVMKeyStore_NoProvider(t *testing.T) {
	_, err := account.NewEVMKeyStore(nil)
	assert.Error(t, err)
}

func TestHasFlags(t *testing.T) {
	ad := account.AuthDescriptor{Flags: []string{"A", "T"}}
	assert.True(t, account.HasFlags(ad, []string{"T"}))
	assert.True(t, account.HasFlags(ad, nil))
	assert.False(t, account.HasFlags(ad, []string{"T", "M"}))
}

func TestAuthDescriptor_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, account.AuthDescriptor{}.Expired(now))
	assert.False(t, account.AuthDescriptor{ExpiresAt: now.Add(time.Minute).UnixMilli()}.Expired(now))
	assert.True(t, account.AuthDescriptor{ExpiresAt: now.Add(-time.Minute).UnixMilli()}.Expired(now))
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("no account", func(t *testing.T) {
		f := newFixture(t)
		res, err := account.Resolve(ctx, f.interactor, keystore.NewMemory(), account.DefaultLoginFlags)
		require.NoError(t, err)
		assert.Equal(t, account.NoAccount, res.Kind)
		assert.Nil(t, res.Session)
	})

	t.Run("account without stored key", func(t *testing.T) {
		f := newFixture(t)
		id := f.node.RegisterAccount(f.signer.Address())

		res, err := account.Resolve(ctx, f.interactor, keystore.NewMemory(), account.DefaultLoginFlags)
		require.NoError(t, err)
		assert.Equal(t, account.AccountWithoutSession, res.Kind)
		assert.Equal(t, id, res.AccountID)
		assert.Nil(t, res.Session)
	})

	t.Run("account with live session key", func(t *testing.T) {
		f := newFixture(t)
		id := f.node.RegisterAccount(f.signer.Address())
		store := keystore.NewMemory()
		_, err := f.interactor.Login(ctx, account.LoginOptions{AccountID: id, LoginKeyStore: store})
		require.NoError(t, err)

		res, err := account.Resolve(ctx, f.interactor, store, account.DefaultLoginFlags)
		require.NoError(t, err)
		assert.Equal(t, account.AccountWithActiveSession, res.Kind)
		require.NotNil(t, res.Session)
		assert.Equal(t, id, res.Session.AccountID)
	})

	t.Run("expired session key", func(t *testing.T) {
		f := newFixture(t)
		id := f.node.RegisterAccount(f.signer.Address())
		store := keystore.NewMemory()
		_, err := f.interactor.Login(ctx, account.LoginOptions{AccountID: id, LoginKeyStore: store})
		require.NoError(t, err)
		f.node.ExpireDescriptors()

		res, err := account.Resolve(ctx, f.interactor, store, account.DefaultLoginFlags)
		require.NoError(t, err)
		assert.Equal(t, account.AccountWithoutSession, res.Kind)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.node.RegisterAccount(f.signer.Address())
	store := keystore.NewMemory()

	before := time.Now()
	session, err := f.interactor.Login(ctx, account.LoginOptions{AccountID: id, LoginKeyStore: store})
	require.NoError(t, err)
	assert.Equal(t, 1, f.node.Calls(account.OpAddAuthDescriptor))
	assert.WithinDuration(t, before.Add(account.DefaultTTL), session.ExpiresAt, time.Minute)

	stored, err := store.Get(ctx, id.String())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, session.SignerID().String(), stored.PubKeyHex())

	again, err := f.interactor.Login(ctx, account.LoginOptions{AccountID: id, LoginKeyStore: store})
	require.NoError(t, err)
	assert.Equal(t, session.DescriptorID, again.DescriptorID)
	assert.Equal(t, 1, f.node.Calls(account.OpAddAuthDescriptor), "valid stored key is reused")
}

func TestLogin_WalletRefuses(t *testing.T) {
	node := testutil.NewChainNode(t)
	owner, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	impostor, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	id := node.RegisterAccount(owner.Address())

	client, err := chain.NewClient(context.Background(), node.Settings(), logging.NewNop(),
		chain.WithStatusPollInterval(time.Millisecond))
	require.NoError(t, err)
	evm, err := account.NewEVMKeyStore(impostor)
	require.NoError(t, err)
	in := account.NewInteractor(client, evm, logging.NewNop())

	store := keystore.NewMemory()
	_, err = in.Login(context.Background(), account.LoginOptions{AccountID: id, LoginKeyStore: store})
	require.ErrorIs(t, err, chain.ErrTxRejected)

	kp, err := store.Get(context.Background(), id.String())
	require.NoError(t, err)
	assert.Nil(t, kp, "failed login leaves no key behind")
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, err := f.interactor.Register(ctx, nil, account.LoginOptions{LoginKeyStore: keystore.NewMemory()})
	require.NoError(t, err)
	require.NotNil(t, session)

	accounts, err := f.interactor.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, accounts[0].ID, session.AccountID)

	_, err = f.interactor.Register(ctx, nil, account.LoginOptions{LoginKeyStore: keystore.NewMemory()})
	assert.ErrorIs(t, err, chain.ErrTxRejected)
}

func TestSession_SendAndLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.node.RegisterAccount(f.signer.Address())
	store := keystore.NewMemory()
	session, err := f.interactor.Login(ctx, account.LoginOptions{AccountID: id, LoginKeyStore: store})
	require.NoError(t, err)

	_, err = session.Send(ctx, account.AuthSession, chain.Op("nonexistent.op"))
	assert.ErrorIs(t, err, chain.ErrTxRejected)

	require.NoError(t, session.Logout(ctx))
	assert.Equal(t, 1, f.node.Calls(account.OpDeleteAuthDescriptor))
	assert.Len(t, f.node.Descriptors(id), 1, "only the main descriptor remains")

	kp, err := store.Get(ctx, id.String())
	require.NoError(t, err)
	assert.Nil(t, kp)
}

func TestAuthMessage_StableAcrossDecoding(t *testing.T) {
	ops := []chain.Operation{chain.Op("ft4.add_auth_descriptor", "ab", map[string]any{"signer": "cd", "flags": []string{"T"}}, map[string]any{"expires": int64(1760000000000)})}
	direct, err := account.AuthMessage([]byte{1, 2}, "n", ops)
	require.NoError(t, err)

	signed, err := chain.NewTransaction([]byte{1, 2}, ops...).Sign()
	require.NoError(t, err)
	payload, err := signed.Encode()
	require.NoError(t, err)
	decoded, err := chain.DecodeSignedTransaction(payload)
	require.NoError(t, err)

	again, err := account.AuthMessage([]byte{1, 2}, "n", decoded.Operations)
	require.NoError(t, err)
	assert.Equal(t, string(direct), string(again))
	assert.Contains(t, string(direct), "ft4.add_auth_descriptor")
}
