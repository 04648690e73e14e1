package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/query"
)

// Cache keys.
const (
	KeyAllPfps     = "all_pfps"
	KeyEquippedPfp = "equipped_pfp"
	KeyPfpMetadata = "pfp_metadata"
	KeyItems       = "items"
)

const (
	QueryAllPfps     = "pfps.get_all"
	QueryEquippedPfp = "pfps.get_equipped"
	QueryPfpMetadata = "pfps.get_metadata"
	OpAttachModel    = "pfps.attach_model"
)

// ItemKind names one of the non-pfp inventories.
type ItemKind string

const (
	ItemFishingRods ItemKind = "fishing_rods"
	ItemEquipment   ItemKind = "equipment"
	ItemWeapons     ItemKind = "weapons"
)

var itemQueries = map[ItemKind]string{
	ItemFishingRods: "fishing.get_rods",
	ItemEquipment:   "equipments.get_all",
	ItemWeapons:     "equipments.get_weapon",
}

func ParseItemKind(s string) (ItemKind, error) {
	k := ItemKind(s)
	if _, ok := itemQueries[k]; !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, s)
	}
	return k, nil
}

// Session is what the inventory needs from an authenticated account.
type Session interface {
	Query(ctx context.Context, name string, args map[string]any, out any) error
	Send(ctx context.Context, auth account.Authenticator, ops ...chain.Operation) (chain.Receipt, error)
}

// Service reads a tab's inventory through its query cache.
type Service struct {
	cache  *query.Cache
	logger *logrus.Logger
}

func NewService(cache *query.Cache, logger *logrus.Logger) *Service {
	return &Service{cache: cache, logger: logger}
}

// AllTokens lists the account's pfps. A nil session fails before any network call.
func (s *Service) AllTokens(ctx context.Context, session Session, accountID domain.HexBytes) ([]domain.Token, error) {
	if session == nil {
		return nil, domain.ErrNoSession
	}
	return query.Fetch(ctx, s.cache, query.Key(KeyAllPfps, accountID.String()), func(ctx context.Context) ([]domain.Token, error) {
		var tokens []domain.Token
		if err := session.Query(ctx, QueryAllPfps, map[string]any{"account_id": accountID.String()}, &tokens); err != nil {
			return nil, err
		}
		for i := range tokens {
			tokens[i].Image = ConvertIPFSToGatewayURL(tokens[i].Image)
		}
		return tokens, nil
	})
}

// Equipped returns the equipped pfp, or nil when none is.
func (s *Service) Equipped(ctx context.Context, session Session, accountID domain.HexBytes) (*domain.Token, error) {
	if session == nil {
		return nil, domain.ErrNoSession
	}
	return query.Fetch(ctx, s.cache, query.Key(KeyEquippedPfp, accountID.String()), func(ctx context.Context) (*domain.Token, error) {
		var token *domain.Token
		if err := session.Query(ctx, QueryEquippedPfp, map[string]any{"account_id": accountID.String()}, &token); err != nil {
			return nil, err
		}
		if token != nil {
			token.Image = ConvertIPFSToGatewayURL(token.Image)
		}
		return token, nil
	})
}

func (s *Service) Metadata(ctx context.Context, session Session, uid domain.HexBytes) (*domain.Token, error) {
	if session == nil {
		return nil, domain.ErrNoSession
	}
	token, err := query.Fetch(ctx, s.cache, query.Key(KeyPfpMetadata, uid.String()), func(ctx context.Context) (*domain.Token, error) {
		var token *domain.Token
		if err := session.Query(ctx, QueryPfpMetadata, map[string]any{"uid": uid.String()}, &token); err != nil {
			return nil, err
		}
		if token != nil {
			token.Image = ConvertIPFSToGatewayURL(token.Image)
		}
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, domain.ErrTokenNotFound
	}
	return token, nil
}

// Items lists one of the other inventories. slot narrows equipment to one slot.
func (s *Service) Items(ctx context.Context, session Session, accountID domain.HexBytes, kind ItemKind, slot string) ([]domain.Item, error) {
	if session == nil {
		return nil, domain.ErrNoSession
	}
	name, ok := itemQueries[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, kind)
	}
	args := map[string]any{"account_id": accountID.String()}
	keyParts := []string{accountID.String(), string(kind)}
	if slot != "" && kind == ItemEquipment {
		args["slot"] = slot
		keyParts = append(keyParts, slot)
	}
	return query.Fetch(ctx, s.cache, query.Key(KeyItems, keyParts...), func(ctx context.Context) ([]domain.Item, error) {
		var items []domain.Item
		if err := session.Query(ctx, name, args, &items); err != nil {
			return nil, err
		}
		for i := range items {
			items[i].Image = ConvertIPFSToGatewayURL(items[i].Image)
		}
		return items, nil
	})
}

// AttachModel points the token's domain at modelURL. On success the cached token lists
// are dropped so the next read comes from the chain; nothing is patched in place.
func (s *Service) AttachModel(ctx context.Context, session Session, uid domain.HexBytes, modelDomain, modelURL string) error {
	if session == nil {
		return domain.ErrNoSession
	}
	modelDomain = strings.TrimSpace(modelDomain)
	if modelDomain == "" {
		return domain.ErrInvalidDomain
	}
	if _, err := session.Send(ctx, account.AuthNoop, chain.Op(OpAttachModel, uid, modelDomain, modelURL)); err != nil {
		return fmt.Errorf("attach model: %w", err)
	}

	s.cache.InvalidatePrefix(KeyAllPfps)
	s.cache.InvalidatePrefix(KeyEquippedPfp)
	s.cache.Invalidate(query.Key(KeyPfpMetadata, uid.String()))
	s.logger.WithFields(logrus.Fields{
		"uid":    uid.String(),
		"domain": modelDomain,
	}).Info("Model attached")
	return nil
}
