package websocket

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

const DefaultSignTimeout = 2 * time.Minute

// RemoteSigner is a wallet.Provider whose key lives in the browser tab. Every
// PersonalSign round-trips a sign_request over the tab's connections.
type RemoteSigner struct {
	hub     *Hub
	tabID   uuid.UUID
	address string
	timeout time.Duration
}

var _ wallet.Provider = (*RemoteSigner)(nil)

func NewRemoteSigner(hub *Hub, tabID uuid.UUID, address string, timeout time.Duration) (*RemoteSigner, error) {
	normalized, err := wallet.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultSignTimeout
	}
	return &RemoteSigner{hub: hub, tabID: tabID, address: normalized, timeout: timeout}, nil
}

func (s *RemoteSigner) Address() string { return s.address }

func (s *RemoteSigner) PersonalSign(ctx context.Context, message []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.hub.requestSignature(ctx, s.tabID, SignRequestPayload{
		RequestID: uuid.NewString(),
		Address:   s.address,
		Message:   hex.EncodeToString(message),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("wallet did not answer within %s: %w", s.timeout, err)
		}
		return nil, err
	}
	if resp.Rejected {
		return nil, domain.ErrSigningRejected
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrSigningRejected, resp.Error)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(resp.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	ok, err := wallet.VerifyPersonalSign(s.address, message, sig)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("signature does not belong to %s", s.address)
	}
	return sig, nil
}
