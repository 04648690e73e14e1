// Package wallet implements the EVM side of authentication: the wallet provider the
// chain key store signs through, EIP-191 personal_sign and EIP-55 addresses.
package wallet

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Provider is a connected wallet able to personal_sign on behalf of its address.
type Provider interface {
	Address() string
	PersonalSign(ctx context.Context, message []byte) ([]byte, error)
}

// LocalSigner is a Provider backed by an in-process secp256k1 key.
type LocalSigner struct {
	key     *btcec.PrivateKey
	address string
}

// NewLocalSigner parses a hex private key (0x prefix optional).
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return &LocalSigner{key: key, address: pubKeyToEthAddress(key.PubKey())}, nil
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &LocalSigner{key: key, address: pubKeyToEthAddress(key.PubKey())}, nil
}

func (s *LocalSigner) Address() string { return s.address }

// PrivateKeyHex exports the key, 0x prefixed.
func (s *LocalSigner) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(s.key.Serialize())
}

// PersonalSign returns a 65 byte R|S|V signature with V in {27, 28}.
func (s *LocalSigner) PersonalSign(ctx context.Context, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	compact := ecdsa.SignCompact(s.key, PersonalMessageHash(message), false)
	// btcec compact layout is V|R|S
	sig := make([]byte, 65)
	copy(sig[0:64], compact[1:65])
	sig[64] = compact[0]
	return sig, nil
}

// PersonalMessageHash hashes a message with the EIP-191 personal_sign prefix.
func PersonalMessageHash(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return Keccak256([]byte(prefixed))
}

// VerifyPersonalSign checks an EIP-191 personal_sign signature against an address.
func VerifyPersonalSign(address string, message, sig []byte) (bool, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(recovered, normalized), nil
}

// RecoverAddress returns the checksummed address that produced sig over message.
func RecoverAddress(message, sig []byte) (string, error) {
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("invalid recovery id: %d", v)
	}
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:65], sig[0:64])

	pubKey, _, err := ecdsa.RecoverCompact(compact, PersonalMessageHash(message))
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return pubKeyToEthAddress(pubKey), nil
}

// NormalizeAddress converts an Ethereum address to checksum format
func NormalizeAddress(address string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	if len(addr) != 40 {
		return "", fmt.Errorf("ethereum address must be 40 hex characters")
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", fmt.Errorf("invalid hex in address: %w", err)
	}
	return toChecksumAddress(addr), nil
}

// AddressBytes returns the 20 raw bytes of an address.
func AddressBytes(address string) ([]byte, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(normalized[2:])
}

// Keccak256 computes the legacy Keccak-256 hash used by Ethereum.
func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func pubKeyToEthAddress(pubKey *btcec.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed()
	hash := Keccak256(uncompressed[1:])
	return toChecksumAddress(hex.EncodeToString(hash[12:]))
}

// toChecksumAddress applies EIP-55 to a lowercase 40 char hex address.
func toChecksumAddress(addr string) string {
	addr = strings.ToLower(addr)
	hash := Keccak256([]byte(addr))

	result := make([]byte, 42)
	result[0] = '0'
	result[1] = 'x'
	for i := 0; i < 40; i++ {
		c := addr[i]
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		nibble &= 0x0f
		if nibble >= 8 && c >= 'a' && c <= 'f' {
			result[i+2] = c - 32
		} else {
			result[i+2] = c
		}
	}
	return string(result)
}
