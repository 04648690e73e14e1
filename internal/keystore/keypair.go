package keystore

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/megayours/pfp-inventory/internal/domain"
)

// KeyPair is a disposable secp256k1 session key. Its ID is the compressed public key.
// Flags are the permissions the key was registered with.
type KeyPair struct {
	key   *btcec.PrivateKey
	Flags []string
}

func GenerateKeyPair() (*KeyPair, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &KeyPair{key: key}, nil
}

func KeyPairFromHex(privateKeyHex string) (*KeyPair, error) {
	raw, err := domain.ParseHex(privateKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("invalid session key")
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return &KeyPair{key: key}, nil
}

// HasFlags reports whether the key was registered with every flag in want.
func (k *KeyPair) HasFlags(want []string) bool {
	for _, f := range want {
		found := false
		for _, have := range k.Flags {
			if have == f {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (k *KeyPair) ID() []byte { return k.key.PubKey().SerializeCompressed() }

func (k *KeyPair) PubKeyHex() string { return hex.EncodeToString(k.ID()) }

func (k *KeyPair) PrivateKeyHex() string { return hex.EncodeToString(k.key.Serialize()) }

func (k *KeyPair) SignDigest(digest []byte) ([]byte, error) {
	return ecdsa.SignCompact(k.key, digest, true), nil
}
