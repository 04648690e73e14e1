package account

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

// EVMKeyStore authorizes operations with the connected EVM wallet.
type EVMKeyStore struct {
	provider wallet.Provider
	id       domain.HexBytes
}

func NewEVMKeyStore(provider wallet.Provider) (*EVMKeyStore, error) {
	if provider == nil {
		return nil, domain.ErrWalletUnavailable
	}
	id, err := wallet.AddressBytes(provider.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWalletUnavailable, err)
	}
	return &EVMKeyStore{provider: provider, id: id}, nil
}

// ID is the 20 byte wallet address.
func (k *EVMKeyStore) ID() domain.HexBytes { return k.id }

func (k *EVMKeyStore) Address() string { return k.provider.Address() }

// Authorize returns the ft4.evm_signatures operation covering ops.
func (k *EVMKeyStore) Authorize(ctx context.Context, blockchainRID []byte, nonce string, ops []chain.Operation) (chain.Operation, error) {
	msg, err := AuthMessage(blockchainRID, nonce, ops)
	if err != nil {
		return chain.Operation{}, err
	}
	sig, err := k.provider.PersonalSign(ctx, msg)
	if err != nil {
		return chain.Operation{}, err
	}
	return chain.Op(OpEVMSignatures, []domain.HexBytes{k.id}, []domain.HexBytes{sig}), nil
}

// AuthMessage is the text the wallet signs to authorize ops in a transaction. Arguments
// are rendered in canonical JSON so the node can rebuild the same text from the decoded
// transaction.
func AuthMessage(blockchainRID []byte, nonce string, ops []chain.Operation) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Please sign the message to call\n\n")
	for _, op := range ops {
		args, err := canonicalJSON(op.Args)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", op.Name, err)
		}
		fmt.Fprintf(&b, "%s %s\n", op.Name, args)
	}
	fmt.Fprintf(&b, "\non blockchain\n\n%s\n\nNonce: %s", hex.EncodeToString(blockchainRID), nonce)
	return []byte(b.String()), nil
}

func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
