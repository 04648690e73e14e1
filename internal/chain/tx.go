package chain

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/megayours/pfp-inventory/internal/domain"
)

// Operation is a single named call inside a transaction.
type Operation struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

func Op(name string, args ...any) Operation {
	if args == nil {
		args = []any{}
	}
	return Operation{Name: name, Args: args}
}

// Signer signs transaction digests with a secp256k1 key. ID is the compressed public key.
type Signer interface {
	ID() []byte
	SignDigest(digest []byte) ([]byte, error)
}

type Transaction struct {
	BlockchainRID domain.HexBytes   `json:"blockchainRid"`
	Operations    []Operation       `json:"operations"`
	Signers       []domain.HexBytes `json:"signers"`
	Nonce         string            `json:"nonce"`
}

type SignedTransaction struct {
	Transaction
	Signatures []domain.HexBytes `json:"signatures"`
}

// NewTransaction builds an unsigned transaction with a fresh nonce.
func NewTransaction(blockchainRID []byte, ops ...Operation) *Transaction {
	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	return &Transaction{
		BlockchainRID: blockchainRID,
		Operations:    ops,
		Signers:       []domain.HexBytes{},
		Nonce:         hex.EncodeToString(nonce),
	}
}

// RID is the sha256 of the canonical JSON encoding of the unsigned body.
func (t *Transaction) RID() ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	sum := sha256.Sum256(body)
	return sum[:], nil
}

// Sign fixes the signer list and collects one signature per signer over the RID.
func (t *Transaction) Sign(signers ...Signer) (*SignedTransaction, error) {
	t.Signers = make([]domain.HexBytes, 0, len(signers))
	for _, s := range signers {
		t.Signers = append(t.Signers, s.ID())
	}
	rid, err := t.RID()
	if err != nil {
		return nil, err
	}
	signed := &SignedTransaction{Transaction: *t, Signatures: make([]domain.HexBytes, 0, len(signers))}
	for _, s := range signers {
		sig, err := s.SignDigest(rid)
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}
		signed.Signatures = append(signed.Signatures, sig)
	}
	return signed, nil
}

// Encode returns the hex payload posted to /tx.
func (s *SignedTransaction) Encode() (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(body), nil
}

func DecodeSignedTransaction(payload string) (*SignedTransaction, error) {
	body, err := hex.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	var tx SignedTransaction
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &tx, nil
}

// Verify checks that every listed signer produced its signature over the RID.
func (s *SignedTransaction) Verify() error {
	if len(s.Signatures) != len(s.Signers) {
		return errors.New("signature count does not match signer count")
	}
	rid, err := s.Transaction.RID()
	if err != nil {
		return err
	}
	for i, signer := range s.Signers {
		pub, _, err := ecdsa.RecoverCompact(s.Signatures[i], rid)
		if err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
		if !bytes.Equal(pub.SerializeCompressed(), signer) {
			return fmt.Errorf("signature %d does not match signer %s", i, signer)
		}
	}
	return nil
}
