package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
	"github.com/megayours/pfp-inventory/internal/keystore"
	"github.com/megayours/pfp-inventory/internal/query"
	"github.com/megayours/pfp-inventory/internal/upload"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

// AuthSnapshot is the auth state of both chains of a tab.
type AuthSnapshot struct {
	Wallet  string     `json:"wallet,omitempty"`
	Primary auth.State `json:"primary"`
	Hub     auth.State `json:"hub"`
}

// Tab is the runtime state of one browser tab: the two chain auth contexts, the upload
// record and the query cache. It is rebuilt on demand after a restart; only the primary
// chain's login keys survive that.
type Tab struct {
	ID      uuid.UUID
	Primary *auth.Context
	Hub     *auth.Context
	Tracker *upload.Tracker
	Cache   *query.Cache

	inventory   *inventory.Service
	uploader    *upload.Uploader
	primaryKeys keystore.LoginKeyStore
	hubKeys     keystore.LoginKeyStore
	extensions  []string
	onUpload    func(size int, err error)
	logger      *logrus.Entry

	mu       sync.Mutex
	wallet   wallet.Provider
	lastSeen time.Time
	// uploading guards the single upload record; a second upload overwrites it anyway
	// but never runs concurrently with the first.
	uploading sync.Mutex
}

// Chain returns the auth context of the named chain.
func (t *Tab) Chain(name domain.ChainName) (*auth.Context, error) {
	switch name {
	case domain.ChainPrimary:
		return t.Primary, nil
	case domain.ChainHub:
		return t.Hub, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChain, name)
}

func (t *Tab) Auth() AuthSnapshot {
	t.mu.Lock()
	var address string
	if t.wallet != nil {
		address = t.wallet.Address()
	}
	t.mu.Unlock()
	return AuthSnapshot{Wallet: address, Primary: t.Primary.State(), Hub: t.Hub.State()}
}

// touch records activity and returns the previous time the tab was seen.
func (t *Tab) touch(now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.lastSeen
	t.lastSeen = now
	return prev
}

func (t *Tab) idleSince(cutoff time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen.Before(cutoff)
}

// ConnectWallet hands the provider to both chains, which then try to restore a stored
// session without prompting. A previous wallet with another address is disconnected
// first; reconnecting the same address keeps its sessions.
func (t *Tab) ConnectWallet(ctx context.Context, provider wallet.Provider) error {
	if provider == nil {
		return domain.ErrWalletUnavailable
	}
	t.mu.Lock()
	prev := t.wallet
	t.wallet = provider
	t.mu.Unlock()
	if prev != nil && prev.Address() != provider.Address() {
		t.logger.WithField("previous", prev.Address()).Info("Switching wallet")
		t.Primary.WalletDisconnected()
		t.Hub.WalletDisconnected()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Primary.WalletConnected(gctx, provider) })
	g.Go(func() error { return t.Hub.WalletConnected(gctx, provider) })
	if err := g.Wait(); err != nil {
		t.logger.WithError(err).Warn("Passive session restore failed")
		return err
	}
	return nil
}

// DisconnectWallet clears clients and sessions of both chains before returning.
func (t *Tab) DisconnectWallet() {
	t.mu.Lock()
	t.wallet = nil
	t.mu.Unlock()
	t.Primary.WalletDisconnected()
	t.Hub.WalletDisconnected()
}

// Logout ends both chain sessions, forgets the wallet, drops every cached query and
// clears the stored login keys.
func (t *Tab) Logout(ctx context.Context) error {
	var errs []error
	for _, c := range []*auth.Context{t.Primary, t.Hub} {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.DisconnectWallet()
	dropped := t.Cache.Len()
	t.Cache.InvalidateAll()
	t.Tracker.Reset()
	for _, ks := range []keystore.LoginKeyStore{t.primaryKeys, t.hubKeys} {
		if err := ks.ClearAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear login keys: %w", err))
		}
	}
	t.logger.WithField("dropped_queries", dropped).Info("Tab logged out")
	return errors.Join(errs...)
}

func (t *Tab) Tokens(ctx context.Context) ([]domain.Token, error) {
	s, err := t.Primary.Session()
	if err != nil {
		return nil, err
	}
	return t.inventory.AllTokens(ctx, s, s.AccountID)
}

func (t *Tab) Equipped(ctx context.Context) (*domain.Token, error) {
	s, err := t.Primary.Session()
	if err != nil {
		return nil, err
	}
	return t.inventory.Equipped(ctx, s, s.AccountID)
}

func (t *Tab) Token(ctx context.Context, uid domain.HexBytes) (*domain.Token, error) {
	s, err := t.Primary.Session()
	if err != nil {
		return nil, err
	}
	return t.inventory.Metadata(ctx, s, uid)
}

func (t *Tab) Items(ctx context.Context, kind inventory.ItemKind, slot string) ([]domain.Item, error) {
	s, err := t.Primary.Session()
	if err != nil {
		return nil, err
	}
	return t.inventory.Items(ctx, s, s.AccountID, kind, slot)
}

// UploadInput is one model upload as the upload dialog submits it.
type UploadInput struct {
	TokenUID    domain.HexBytes
	Mode        inventory.AttachMode
	Domain      string
	FileName    string
	ContentType string
	Data        []byte
}

// UploadModel stores the file on the hub chain's storage and attaches it to the token
// under the domain the attach wizard resolves.
func (t *Tab) UploadModel(ctx context.Context, in UploadInput) (upload.Result, error) {
	t.uploading.Lock()
	defer t.uploading.Unlock()

	if err := upload.ValidateModelFile(in.FileName, t.extensions); err != nil {
		t.Tracker.Reset()
		return upload.Result{}, err
	}
	primary, err := t.Primary.Session()
	if err != nil {
		return upload.Result{}, err
	}
	hub, err := t.Hub.Session()
	if err != nil {
		return upload.Result{}, err
	}

	token, err := t.inventory.Metadata(ctx, primary, in.TokenUID)
	if err != nil {
		return upload.Result{}, err
	}
	target, err := inventory.ResolveTarget(token.Models, in.Mode, in.Domain)
	if err != nil {
		return upload.Result{}, err
	}

	res, err := t.uploader.Upload(ctx, upload.Request{
		HubSession:     hub,
		PrimarySession: primary,
		Tracker:        t.Tracker,
		Inventory:      t.inventory,
		TokenUID:       in.TokenUID,
		Domain:         target,
		FileName:       in.FileName,
		ContentType:    in.ContentType,
		Data:           in.Data,
	})
	if t.onUpload != nil {
		t.onUpload(len(in.Data), err)
	}
	return res, err
}
