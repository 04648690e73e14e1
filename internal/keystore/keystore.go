package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/repository"
)

// LoginKeyStore holds the disposable key an account logged in with. Get returns nil
// without error when no key is stored.
type LoginKeyStore interface {
	Get(ctx context.Context, accountID string) (*KeyPair, error)
	Generate(ctx context.Context, accountID string, flags []string) (*KeyPair, error)
	Clear(ctx context.Context, accountID string) error
	ClearAll(ctx context.Context) error
}

// Memory keeps keys for the lifetime of the process only.
type Memory struct {
	mu   sync.Mutex
	keys map[string]*KeyPair
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*KeyPair)}
}

func (m *Memory) Get(_ context.Context, accountID string) (*KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[accountID], nil
}

func (m *Memory) Generate(_ context.Context, accountID string, flags []string) (*KeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	kp.Flags = append([]string(nil), flags...)
	m.mu.Lock()
	m.keys[accountID] = kp
	m.mu.Unlock()
	return kp, nil
}

func (m *Memory) Clear(_ context.Context, accountID string) error {
	m.mu.Lock()
	delete(m.keys, accountID)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ClearAll(context.Context) error {
	m.mu.Lock()
	m.keys = make(map[string]*KeyPair)
	m.mu.Unlock()
	return nil
}

// Persistent stores keys in the database, scoped to one tab and chain, so a session
// survives the tab reconnecting.
type Persistent struct {
	repo   repository.LoginKeyRepository
	tabID  uuid.UUID
	chain  domain.ChainName
	logger *logrus.Entry
}

func NewPersistent(repo repository.LoginKeyRepository, tabID uuid.UUID, chain domain.ChainName, logger *logrus.Logger) *Persistent {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Persistent{
		repo:   repo,
		tabID:  tabID,
		chain:  chain,
		logger: logger.WithFields(logrus.Fields{"tab": tabID, "chain": string(chain)}),
	}
}

func (p *Persistent) Get(ctx context.Context, accountID string) (*KeyPair, error) {
	row, err := p.repo.Get(ctx, p.tabID, p.chain, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load login key: %w", err)
	}
	kp, err := KeyPairFromHex(row.PrivateKey)
	if err != nil {
		// An unreadable row is as good as none; the next login replaces it.
		p.logger.WithError(err).WithField("account_id", accountID).Warn("Ignoring unreadable login key")
		return nil, nil
	}
	if len(row.Flags) > 0 {
		if err := json.Unmarshal(row.Flags, &kp.Flags); err != nil {
			// Without flags the key never matches a login rule, so it is not reused.
			p.logger.WithError(err).WithField("account_id", accountID).Warn("Ignoring unreadable login key flags")
			kp.Flags = nil
		}
	}
	return kp, nil
}

func (p *Persistent) Generate(ctx context.Context, accountID string, flags []string) (*KeyPair, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	kp.Flags = append([]string(nil), flags...)
	encoded, err := json.Marshal(kp.Flags)
	if err != nil {
		return nil, err
	}
	err = p.repo.Upsert(ctx, &domain.LoginKey{
		TabID:      p.tabID,
		Chain:      p.chain,
		AccountID:  accountID,
		PrivateKey: kp.PrivateKeyHex(),
		Flags:      datatypes.JSON(encoded),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("store login key: %w", err)
	}
	return kp, nil
}

func (p *Persistent) Clear(ctx context.Context, accountID string) error {
	return p.repo.Delete(ctx, p.tabID, p.chain, accountID)
}

func (p *Persistent) ClearAll(ctx context.Context) error {
	return p.repo.DeleteByTab(ctx, p.tabID, p.chain)
}
