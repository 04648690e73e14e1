package account

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/keystore"
)

// Authenticator selects how a session proves the account behind its operations.
type Authenticator int

const (
	// AuthSession prepends ft4.ft_auth naming the account and the session descriptor.
	AuthSession Authenticator = iota
	// AuthNoop sends the operations as they are, signed by the session key only.
	AuthNoop
)

// Session is an authenticated handle on one account, backed by a disposable key.
type Session struct {
	AccountID    domain.HexBytes
	DescriptorID domain.HexBytes
	ExpiresAt    time.Time

	chain  Chain
	key    *keystore.KeyPair
	store  keystore.LoginKeyStore
	logger *logrus.Logger
}

// SignerID is the public key of the session key.
func (s *Session) SignerID() domain.HexBytes { return s.key.ID() }

func (s *Session) Query(ctx context.Context, name string, args map[string]any, out any) error {
	return s.chain.Query(ctx, name, args, out)
}

func (s *Session) Send(ctx context.Context, auth Authenticator, ops ...chain.Operation) (chain.Receipt, error) {
	if auth == AuthSession {
		ops = append([]chain.Operation{chain.Op(OpFTAuth, s.AccountID, s.DescriptorID)}, ops...)
	}
	tx := chain.NewTransaction(s.chain.BlockchainRID(), ops...)
	signed, err := tx.Sign(s.key)
	if err != nil {
		return chain.Receipt{}, err
	}
	return s.chain.SendTransaction(ctx, signed)
}

// Logout deletes the session descriptor on chain and forgets the key. The key is
// forgotten even when the deletion fails.
func (s *Session) Logout(ctx context.Context) error {
	_, err := s.Send(ctx, AuthSession, chain.Op(OpDeleteAuthDescriptor, s.DescriptorID))
	if clearErr := s.store.Clear(ctx, s.AccountID.String()); clearErr != nil && err == nil {
		err = clearErr
	}
	if err != nil {
		s.logger.WithError(err).WithField("account_id", s.AccountID.String()).Warn("Logout incomplete")
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
