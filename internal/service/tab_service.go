package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/config"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
	"github.com/megayours/pfp-inventory/internal/keystore"
	"github.com/megayours/pfp-inventory/internal/metrics"
	"github.com/megayours/pfp-inventory/internal/query"
	"github.com/megayours/pfp-inventory/internal/repository"
	"github.com/megayours/pfp-inventory/internal/upload"
	"github.com/megayours/pfp-inventory/internal/websocket"
)

// touchInterval bounds how often a live tab's last_seen_at is written.
const touchInterval = time.Minute

type Options struct {
	Config  *config.Config
	Repos   *repository.Repositories
	Hub     *websocket.Hub
	Metrics *metrics.Collector
	Logger  *logrus.Logger
	Store   upload.FileStore
	// ClientOptions are applied to every chain client a tab builds.
	ClientOptions []chain.Option
}

// TabService opens tabs, issues their tokens and owns their runtime state.
type TabService struct {
	cfg     *config.Config
	repos   *repository.Repositories
	hub     *websocket.Hub
	metrics *metrics.Collector
	logger  *logrus.Logger
	store   upload.FileStore

	clientOptions []chain.Option
	now           func() time.Time

	mu   sync.Mutex
	tabs map[uuid.UUID]*Tab
}

func NewTabService(opts Options) *TabService {
	s := &TabService{
		cfg:     opts.Config,
		repos:   opts.Repos,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		store:   opts.Store,
		now:     time.Now,
		tabs:    make(map[uuid.UUID]*Tab),
	}
	s.clientOptions = append([]chain.Option{chain.WithFailureHook(s.metrics.EndpointFailure)}, opts.ClientOptions...)
	if s.hub != nil {
		s.hub.OnConnect(s.pushState)
	}
	return s
}

type OpenedTab struct {
	Tab       *domain.Tab
	Token     string
	ExpiresAt time.Time
}

// Open records a new tab and returns its bearer token.
func (s *TabService) Open(ctx context.Context, userAgent string) (*OpenedTab, error) {
	now := s.now()
	tab := &domain.Tab{
		ID:         uuid.New(),
		UserAgent:  userAgent,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repos.Tab.Create(ctx, tab); err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	token, exp, err := s.IssueToken(tab.ID)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("tab", tab.ID).Info("Tab opened")
	return &OpenedTab{Tab: tab, Token: token, ExpiresAt: exp}, nil
}

func (s *TabService) IssueToken(tabID uuid.UUID) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(time.Duration(s.cfg.TabTokenHours) * time.Hour)
	claims := jwt.MapClaims{
		"sub": tabID.String(),
		"exp": exp.Unix(),
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign tab token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken returns the tab a token was issued for.
func (s *TabService) ValidateToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrInvalidTab, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, domain.ErrInvalidTab
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrInvalidTab, err)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", domain.ErrInvalidTab, err)
	}
	return id, nil
}

// Get returns the runtime state of a tab, rebuilding it when the process has none.
func (s *TabService) Get(ctx context.Context, tabID uuid.UUID) (*Tab, error) {
	now := s.now()
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	s.mu.Unlock()
	if ok {
		if now.Sub(t.touch(now)) > touchInterval {
			if err := s.repos.Tab.Touch(ctx, tabID, now); err != nil {
				s.logger.WithError(err).WithField("tab", tabID).Warn("Failed to touch tab")
			}
		}
		return t, nil
	}

	if _, err := s.repos.Tab.GetByID(ctx, tabID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrTabNotFound
		}
		return nil, err
	}
	if err := s.repos.Tab.Touch(ctx, tabID, now); err != nil {
		s.logger.WithError(err).WithField("tab", tabID).Warn("Failed to touch tab")
	}
	if keys, err := s.repos.LoginKey.ListByTab(ctx, tabID); err != nil {
		s.logger.WithError(err).WithField("tab", tabID).Warn("Failed to list stored login keys")
	} else {
		s.logger.WithFields(logrus.Fields{"tab": tabID, "login_keys": len(keys)}).Info("Restoring tab state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[tabID]; ok {
		return t, nil
	}
	t = s.newTab(tabID)
	t.touch(now)
	s.tabs[tabID] = t
	s.metrics.TabOpened()
	return t, nil
}

// Lookup returns the tab's runtime state only if it is live in this process.
func (s *TabService) Lookup(tabID uuid.UUID) (*Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	return t, ok
}

func (s *TabService) newTab(tabID uuid.UUID) *Tab {
	logger := s.logger.WithField("tab", tabID)
	cache := query.New(query.Options{StaleTime: s.cfg.QueryStale}, s.metrics.CacheHooks())
	primaryKeys := keystore.NewPersistent(s.repos.LoginKey, tabID, domain.ChainPrimary, s.logger)
	hubKeys := keystore.NewMemory()

	t := &Tab{
		ID:          tabID,
		Tracker:     upload.NewTracker(),
		Cache:       cache,
		inventory:   inventory.NewService(cache, s.logger),
		uploader:    upload.NewUploader(s.store, s.cfg.ModelExtensions, s.logger),
		primaryKeys: primaryKeys,
		hubKeys:     hubKeys,
		extensions:  s.cfg.ModelExtensions,
		logger:      logger,
		onUpload: func(size int, err error) {
			s.metrics.Upload(s.cfg.StorageBackend, size, err)
		},
	}
	t.Primary = auth.New(auth.Options{
		Name:          domain.ChainPrimary,
		Settings:      s.cfg.PrimaryChain(),
		LoginKeys:     primaryKeys,
		TTL:           s.cfg.SessionTTL,
		Logger:        s.logger,
		ClientOptions: s.clientOptions,
	})
	t.Hub = auth.New(auth.Options{
		Name:          domain.ChainHub,
		Settings:      s.cfg.HubChain(),
		LoginKeys:     hubKeys,
		TTL:           s.cfg.SessionTTL,
		Logger:        s.logger,
		ClientOptions: s.clientOptions,
	})

	for _, c := range []*auth.Context{t.Primary, t.Hub} {
		last := c.State().Status
		var mu sync.Mutex
		c.OnChange(func(st auth.State) {
			mu.Lock()
			changed := st.Status != last
			last = st.Status
			mu.Unlock()
			if changed {
				s.metrics.AuthTransition(st.Chain, st.Status)
			}
			s.push(tabID, websocket.MessageTypeAuthStatus, t.Auth())
		})
	}
	t.Tracker.OnChange(func(p domain.UploadProgress) {
		s.push(tabID, websocket.MessageTypeUploadProgress, p)
	})
	return t
}

func (s *TabService) push(tabID uuid.UUID, msgType websocket.MessageType, payload interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.SendToTab(tabID, msgType, payload)
}

// pushState sends a freshly connected client the tab's current state.
func (s *TabService) pushState(tabID uuid.UUID) {
	t, ok := s.Lookup(tabID)
	if !ok {
		return
	}
	s.push(tabID, websocket.MessageTypeAuthStatus, t.Auth())
	s.push(tabID, websocket.MessageTypeUploadProgress, t.Tracker.Snapshot())
}

// ConnectWallet connects the wallet of the tab's WebSocket as its signer.
func (s *TabService) ConnectWallet(ctx context.Context, t *Tab, address string) error {
	signer, err := websocket.NewRemoteSigner(s.hub, t.ID, address, s.cfg.SignTimeout)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidAddress, err)
	}
	return t.ConnectWallet(ctx, signer)
}

// Close logs the tab out and forgets it.
func (s *TabService) Close(ctx context.Context, tabID uuid.UUID) error {
	if t, ok := s.Lookup(tabID); ok {
		if err := t.Logout(ctx); err != nil {
			s.logger.WithError(err).WithField("tab", tabID).Warn("Logout while closing tab failed")
		}
		s.forget(tabID)
	}
	if err := s.repos.Tab.Delete(ctx, tabID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrTabNotFound
		}
		return err
	}
	s.logger.WithField("tab", tabID).Info("Tab closed")
	return nil
}

func (s *TabService) forget(tabID uuid.UUID) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	delete(s.tabs, tabID)
	s.mu.Unlock()
	if ok {
		t.DisconnectWallet()
		s.metrics.TabClosed()
	}
}

// ReapIdle drops tabs not seen for maxIdle, in memory and in the database.
func (s *TabService) ReapIdle(ctx context.Context, maxIdle time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var idle []uuid.UUID
	for id, t := range s.tabs {
		if t.idleSince(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()
	for _, id := range idle {
		s.forget(id)
	}

	n, err := s.repos.Tab.DeleteIdleSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle tabs: %w", err)
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Reaped idle tabs")
	}
	return n, nil
}

// RunReaper calls ReapIdle every interval until ctx ends.
func (s *TabService) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReapIdle(ctx, maxIdle); err != nil {
				s.logger.WithError(err).Warn("Reaping idle tabs failed")
			}
		}
	}
}
