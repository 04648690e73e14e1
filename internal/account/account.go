package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/keystore"
)

const (
	FlagAccount  = "A"
	FlagTransfer = "T"

	DefaultTTL = 12 * time.Hour

	QueryAccountsBySigner    = "ft4.get_accounts_by_signer"
	QueryDescriptorsBySigner = "ft4.get_account_auth_descriptors_by_signer"

	OpEVMSignatures        = "ft4.evm_signatures"
	OpAddAuthDescriptor    = "ft4.add_auth_descriptor"
	OpDeleteAuthDescriptor = "ft4.delete_auth_descriptor"
	OpRASOpen              = "ft4.ras_open"
	OpRegisterAccount      = "ft4.register_account"
	OpFTAuth               = "ft4.ft_auth"
)

// DefaultLoginFlags are the flags a login descriptor carries.
var DefaultLoginFlags = []string{FlagTransfer}

// DefaultRegisterFlags are the flags of the main descriptor created at registration.
var DefaultRegisterFlags = []string{FlagAccount, FlagTransfer}

// Chain is the part of the chain client accounts need.
type Chain interface {
	BlockchainRID() domain.HexBytes
	Query(ctx context.Context, name string, args map[string]any, out any) error
	SendTransaction(ctx context.Context, tx *chain.SignedTransaction) (chain.Receipt, error)
}

type Account struct {
	ID domain.HexBytes `json:"id"`
}

// AuthDescriptor grants a signer a set of permissions on an account.
type AuthDescriptor struct {
	ID        domain.HexBytes `json:"id"`
	AccountID domain.HexBytes `json:"account_id"`
	Flags     []string        `json:"flags"`
	Signer    domain.HexBytes `json:"signer"`
	// ExpiresAt is unix milliseconds; zero never expires.
	ExpiresAt int64 `json:"expires_at"`
}

func (ad AuthDescriptor) Expired(now time.Time) bool {
	return ad.ExpiresAt != 0 && now.UnixMilli() >= ad.ExpiresAt
}

// HasFlags reports whether ad carries every flag in want.
func HasFlags(ad AuthDescriptor, want []string) bool {
	have := make(map[string]struct{}, len(ad.Flags))
	for _, f := range ad.Flags {
		have[f] = struct{}{}
	}
	for _, f := range want {
		if _, ok := have[f]; !ok {
			return false
		}
	}
	return true
}

type LoginOptions struct {
	AccountID     domain.HexBytes
	LoginKeyStore keystore.LoginKeyStore
	TTL           time.Duration
	Flags         []string
}

func (o LoginOptions) withDefaults() LoginOptions {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.Flags == nil {
		o.Flags = DefaultLoginFlags
	}
	return o
}

// Interactor performs account lookups and logins for one wallet on one chain.
type Interactor struct {
	chain  Chain
	evm    *EVMKeyStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewInteractor(c Chain, evm *EVMKeyStore, logger *logrus.Logger) *Interactor {
	return &Interactor{chain: c, evm: evm, logger: logger, now: time.Now}
}

// Signer returns the wallet the interactor acts for.
func (i *Interactor) Signer() *EVMKeyStore { return i.evm }

// GetAccounts lists the accounts the wallet can sign for.
func (i *Interactor) GetAccounts(ctx context.Context) ([]Account, error) {
	var page struct {
		Data []Account `json:"data"`
	}
	err := i.chain.Query(ctx, QueryAccountsBySigner, map[string]any{
		"id":          i.evm.ID().String(),
		"page_size":   nil,
		"page_cursor": nil,
	}, &page)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	return page.Data, nil
}

func (i *Interactor) descriptorsBySigner(ctx context.Context, accountID, signer domain.HexBytes) ([]AuthDescriptor, error) {
	var ads []AuthDescriptor
	err := i.chain.Query(ctx, QueryDescriptorsBySigner, map[string]any{
		"account_id": accountID.String(),
		"signer":     signer.String(),
	}, &ads)
	if err != nil {
		return nil, fmt.Errorf("get auth descriptors: %w", err)
	}
	return ads, nil
}

// RestoreSession returns a session built from a stored login key whose on-chain
// descriptor is still valid and carries flags. It returns nil when there is none.
func (i *Interactor) RestoreSession(ctx context.Context, accountID domain.HexBytes, store keystore.LoginKeyStore, flags []string) (*Session, error) {
	kp, err := store.Get(ctx, accountID.String())
	if err != nil {
		return nil, err
	}
	if kp == nil || !kp.HasFlags(flags) {
		return nil, nil
	}
	ads, err := i.descriptorsBySigner(ctx, accountID, kp.ID())
	if err != nil {
		return nil, err
	}
	now := i.now()
	for _, ad := range ads {
		if HasFlags(ad, flags) && !ad.Expired(now) {
			return i.newSession(accountID, ad, kp, store), nil
		}
	}
	return nil, nil
}

// Login reuses a stored session key when its descriptor is still valid, otherwise
// registers a fresh disposable key on the account for TTL.
func (i *Interactor) Login(ctx context.Context, opts LoginOptions) (*Session, error) {
	opts = opts.withDefaults()
	if opts.LoginKeyStore == nil {
		return nil, errors.New("login: no login key store")
	}

	session, err := i.RestoreSession(ctx, opts.AccountID, opts.LoginKeyStore, opts.Flags)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	kp, err := opts.LoginKeyStore.Generate(ctx, opts.AccountID.String(), opts.Flags)
	if err != nil {
		return nil, err
	}
	expiresAt := i.now().Add(opts.TTL).UnixMilli()
	addOp := chain.Op(OpAddAuthDescriptor, opts.AccountID, map[string]any{
		"flags":  opts.Flags,
		"signer": domain.HexBytes(kp.ID()),
	}, map[string]any{
		"expires": expiresAt,
	})
	if _, err := i.sendAuthorized(ctx, []chain.Operation{addOp}, kp); err != nil {
		_ = opts.LoginKeyStore.Clear(ctx, opts.AccountID.String())
		return nil, fmt.Errorf("login: %w", err)
	}

	ads, err := i.descriptorsBySigner(ctx, opts.AccountID, kp.ID())
	if err != nil {
		return nil, err
	}
	for _, ad := range ads {
		if HasFlags(ad, opts.Flags) {
			i.logger.WithFields(logrus.Fields{
				"account_id": opts.AccountID.String(),
				"expires_at": expiresAt,
			}).Info("Session key registered")
			return i.newSession(opts.AccountID, ad, kp, opts.LoginKeyStore), nil
		}
	}
	return nil, fmt.Errorf("login: descriptor for session key not found on chain")
}

// Register opens an account for the wallet through the open registration strategy,
// then logs in.
func (i *Interactor) Register(ctx context.Context, flags []string, opts LoginOptions) (*Session, error) {
	if flags == nil {
		flags = DefaultRegisterFlags
	}
	ops := []chain.Operation{
		chain.Op(OpRASOpen, map[string]any{
			"flags":  flags,
			"signer": i.evm.ID(),
		}, nil),
		chain.Op(OpRegisterAccount),
	}
	if _, err := i.sendAuthorized(ctx, ops); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	accounts, err := i.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("register: account not visible after registration")
	}
	i.logger.WithField("account_id", accounts[0].ID.String()).Info("Account registered")

	opts.AccountID = accounts[0].ID
	return i.Login(ctx, opts)
}

// sendAuthorized prefixes ops with the wallet's evm signatures and sends them signed by signers.
func (i *Interactor) sendAuthorized(ctx context.Context, ops []chain.Operation, signers ...chain.Signer) (chain.Receipt, error) {
	tx := chain.NewTransaction(i.chain.BlockchainRID())
	auth, err := i.evm.Authorize(ctx, tx.BlockchainRID, tx.Nonce, ops)
	if err != nil {
		return chain.Receipt{}, err
	}
	tx.Operations = append([]chain.Operation{auth}, ops...)
	signed, err := tx.Sign(signers...)
	if err != nil {
		return chain.Receipt{}, err
	}
	return i.chain.SendTransaction(ctx, signed)
}

func (i *Interactor) newSession(accountID domain.HexBytes, ad AuthDescriptor, kp *keystore.KeyPair, store keystore.LoginKeyStore) *Session {
	s := &Session{
		AccountID:    accountID,
		DescriptorID: ad.ID,
		chain:        i.chain,
		key:          kp,
		store:        store,
		logger:       i.logger,
	}
	if ad.ExpiresAt != 0 {
		s.ExpiresAt = time.UnixMilli(ad.ExpiresAt)
	}
	return s
}
