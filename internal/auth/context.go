// Package auth holds the per-chain authentication state of a tab: the lazily built
// chain client, the account session and the status derived from them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/keystore"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

// ClientFactory builds the chain client once a wallet is connected.
type ClientFactory func(ctx context.Context, settings chain.Settings) (account.Chain, error)

type Options struct {
	Name      domain.ChainName
	Settings  chain.Settings
	LoginKeys keystore.LoginKeyStore
	// Flags a stored login key must carry to restore a session.
	Flags  []string
	TTL    time.Duration
	Logger *logrus.Logger
	// NewClient defaults to chain.NewClient with ClientOptions.
	NewClient     ClientFactory
	ClientOptions []chain.Option
}

// State is a snapshot of a Context.
type State struct {
	Chain      domain.ChainName  `json:"chain"`
	Status     domain.AuthStatus `json:"status"`
	Wallet     string            `json:"wallet,omitempty"`
	HasClient  bool              `json:"hasClient"`
	HasSession bool              `json:"hasSession"`
	AccountID  string            `json:"accountId,omitempty"`
	ExpiresAt  *time.Time        `json:"expiresAt,omitempty"`
	Loading    bool              `json:"loading"`
}

// Context is the auth state machine of one chain. Status is connected exactly when a
// session is held.
type Context struct {
	opts   Options
	logger *logrus.Entry

	mu         sync.Mutex
	walletGen  uint64
	authGen    uint64
	resolveGen uint64
	provider   wallet.Provider
	client     account.Chain
	interactor *account.Interactor
	session    *account.Session
	accountID  domain.HexBytes
	status     domain.AuthStatus
	resolving  bool
	connecting bool
	observers  []func(State)
}

func New(opts Options) *Context {
	if opts.TTL <= 0 {
		opts.TTL = account.DefaultTTL
	}
	if opts.Flags == nil {
		opts.Flags = account.DefaultLoginFlags
	}
	if opts.LoginKeys == nil {
		opts.LoginKeys = keystore.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	c := &Context{
		opts:   opts,
		logger: opts.Logger.WithField("chain", string(opts.Name)),
		status: domain.AuthStatusDisconnected,
	}
	if c.opts.NewClient == nil {
		c.opts.NewClient = func(ctx context.Context, s chain.Settings) (account.Chain, error) {
			return chain.NewClient(ctx, s, opts.Logger, opts.ClientOptions...)
		}
	}
	return c
}

func (c *Context) Name() domain.ChainName { return c.opts.Name }

// OnChange registers fn to receive the state after every transition.
func (c *Context) OnChange(fn func(State)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Context) stateLocked() State {
	s := State{
		Chain:      c.opts.Name,
		Status:     c.status,
		HasClient:  c.client != nil,
		HasSession: c.session != nil,
		Loading:    c.resolving || c.connecting,
	}
	if c.provider != nil {
		s.Wallet = c.provider.Address()
	}
	if c.accountID != nil {
		s.AccountID = c.accountID.String()
	}
	if c.session != nil && !c.session.ExpiresAt.IsZero() {
		exp := c.session.ExpiresAt
		s.ExpiresAt = &exp
	}
	return s
}

func (c *Context) notify() {
	c.mu.Lock()
	state := c.stateLocked()
	observers := append([]func(State){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// Session returns the active session or domain.ErrNoSession. The error also matches
// domain.ErrNotRegistered when Connect found no account for the wallet.
func (c *Context) Session() (*account.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		if c.status == domain.AuthStatusNotRegistered {
			return nil, fmt.Errorf("%w: %w", domain.ErrNoSession, domain.ErrNotRegistered)
		}
		return nil, domain.ErrNoSession
	}
	return c.session, nil
}

// setSessionLocked keeps status and session in step: a session means connected.
func (c *Context) setSessionLocked(s *account.Session, status domain.AuthStatus) {
	if s != nil {
		status = domain.AuthStatusConnected
		c.accountID = s.AccountID
	} else if status == domain.AuthStatusConnected {
		status = domain.AuthStatusDisconnected
	}
	c.session = s
	c.status = status
}

// WalletConnected starts a new wallet lifetime: it acquires the chain client and
// silently restores a session from a stored login key. Without one the status is
// disconnected; an unregistered wallet is only detected by Connect.
func (c *Context) WalletConnected(ctx context.Context, provider wallet.Provider) error {
	if provider == nil {
		return domain.ErrWalletUnavailable
	}
	c.mu.Lock()
	if c.provider != nil && c.provider.Address() != provider.Address() {
		c.resetWalletLocked()
	}
	c.provider = provider
	c.authGen++
	gen := c.authGen
	c.resolveGen++
	resolveGen := c.resolveGen
	c.resolving = true
	c.mu.Unlock()
	c.notify()

	err := c.resolvePassive(ctx, gen)

	// A newer Connect or Disconnect may have taken over the status, but loading only
	// belongs to the latest passive resolution.
	c.mu.Lock()
	if c.resolveGen == resolveGen {
		c.resolving = false
	}
	c.mu.Unlock()
	c.notify()
	return err
}

func (c *Context) resolvePassive(ctx context.Context, gen uint64) error {
	interactor, err := c.ensureInteractor(ctx)
	if err != nil {
		return c.failIfCurrent(gen, err)
	}
	res, err := account.Resolve(ctx, interactor, c.opts.LoginKeys, c.opts.Flags)
	if err != nil {
		return c.failIfCurrent(gen, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authGen != gen {
		c.logger.Debug("Discarding stale session resolution")
		return nil
	}
	c.accountID = res.AccountID
	c.setSessionLocked(res.Session, domain.AuthStatusDisconnected)
	c.logger.WithField("resolution", res.Kind.String()).Debug("Passive session resolution")
	return nil
}

// WalletDisconnected drops the client and the session at once. Results of work started
// before the call are discarded when they arrive.
func (c *Context) WalletDisconnected() {
	c.mu.Lock()
	c.resetWalletLocked()
	c.mu.Unlock()
	c.notify()
}

func (c *Context) resetWalletLocked() {
	c.walletGen++
	c.authGen++
	c.provider = nil
	c.client = nil
	c.interactor = nil
	c.accountID = nil
	c.resolving = false
	c.setSessionLocked(nil, domain.AuthStatusDisconnected)
}

// Connect looks up the wallet's account and logs in. A call made while another is
// pending is dropped and reports domain.ErrConnectInProgress without touching state.
func (c *Context) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		c.logger.Warn("Connection already in progress")
		return domain.ErrConnectInProgress
	}
	if c.provider == nil {
		c.setSessionLocked(nil, domain.AuthStatusDisconnected)
		c.mu.Unlock()
		c.notify()
		return domain.ErrWalletUnavailable
	}
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.authGen++
	gen := c.authGen
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.notify()
	}()

	interactor, err := c.ensureInteractor(ctx)
	if err != nil {
		return c.failIfCurrent(gen, err)
	}
	res, err := account.Resolve(ctx, interactor, c.opts.LoginKeys, c.opts.Flags)
	if err != nil {
		return c.failIfCurrent(gen, err)
	}

	session := res.Session
	switch res.Kind {
	case account.NoAccount:
		return c.commit(gen, nil, domain.AuthStatusNotRegistered)
	case account.AccountWithoutSession:
		session, err = interactor.Login(ctx, c.loginOptions(res.AccountID))
		if err != nil {
			return c.failIfCurrent(gen, err)
		}
	}
	return c.commit(gen, session, domain.AuthStatusConnected)
}

// Register creates the account for the wallet and logs in. It is only valid after
// Connect found no account.
func (c *Context) Register(ctx context.Context) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		c.logger.Warn("Connection already in progress")
		return domain.ErrConnectInProgress
	}
	switch c.status {
	case domain.AuthStatusNotRegistered:
	case domain.AuthStatusConnected:
		c.mu.Unlock()
		return domain.ErrAlreadyRegistered
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: register requires status %s", domain.ErrInvalidAuthStatus, domain.AuthStatusNotRegistered)
	}
	interactor := c.interactor
	c.connecting = true
	c.authGen++
	gen := c.authGen
	c.mu.Unlock()
	c.notify()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		c.notify()
	}()

	if interactor == nil {
		return c.failIfCurrent(gen, domain.ErrNotConnected)
	}
	session, err := interactor.Register(ctx, account.DefaultRegisterFlags, c.loginOptions(nil))
	if err != nil {
		return c.failIfCurrent(gen, err)
	}
	return c.commit(gen, session, domain.AuthStatusConnected)
}

// Disconnect logs out of the current session, if any, and leaves the context
// disconnected. It is safe in every state; a failed logout is only logged.
func (c *Context) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.authGen++
	c.resolving = false
	c.setSessionLocked(nil, domain.AuthStatusDisconnected)
	c.mu.Unlock()
	c.notify()

	if session == nil {
		return nil
	}
	if err := session.Logout(ctx); err != nil {
		c.logger.WithError(err).Warn("Logout failed; session dropped locally")
	}
	return nil
}

func (c *Context) loginOptions(accountID domain.HexBytes) account.LoginOptions {
	return account.LoginOptions{
		AccountID:     accountID,
		LoginKeyStore: c.opts.LoginKeys,
		TTL:           c.opts.TTL,
		Flags:         c.opts.Flags,
	}
}

func (c *Context) commit(gen uint64, session *account.Session, status domain.AuthStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authGen != gen {
		c.logger.Debug("Discarding stale connect result")
		return domain.ErrNotConnected
	}
	c.setSessionLocked(session, status)
	c.logger.WithField("status", string(c.status)).Info("Auth status changed")
	return nil
}

func (c *Context) failIfCurrent(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authGen == gen {
		c.setSessionLocked(nil, domain.AuthStatusDisconnected)
	}
	c.logger.WithError(err).Warn("Chain authentication failed")
	return err
}

// ensureInteractor returns the cached account interactor, building the chain client on
// first use in the current wallet lifetime.
func (c *Context) ensureInteractor(ctx context.Context) (*account.Interactor, error) {
	c.mu.Lock()
	if c.interactor != nil {
		in := c.interactor
		c.mu.Unlock()
		return in, nil
	}
	if c.provider == nil {
		c.mu.Unlock()
		return nil, domain.ErrWalletUnavailable
	}
	provider := c.provider
	walletGen := c.walletGen
	c.mu.Unlock()

	evm, err := account.NewEVMKeyStore(provider)
	if err != nil {
		return nil, err
	}
	client, err := c.opts.NewClient(ctx, c.opts.Settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotConnected, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.walletGen != walletGen {
		return nil, errors.New("wallet changed while acquiring chain client")
	}
	if c.interactor == nil {
		c.client = client
		c.interactor = account.NewInteractor(client, evm, c.opts.Logger)
	}
	return c.interactor, nil
}
