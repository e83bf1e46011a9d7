// Package audit makes a transaction log tamper-evident by signing every
// appended entry with a secp256k1 key. Signatures are deterministic
// (RFC6979), so a given entry always produces the same signature, and any
// holder of the public key can verify a log offline.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ineyio/creditledger"
)

// SigningLog wraps a TransactionLog, signing each entry before it is
// appended. List passes through unchanged.
type SigningLog struct {
	privKey *secp256k1.PrivateKey
	next    creditledger.TransactionLog
}

var _ creditledger.TransactionLog = (*SigningLog)(nil)

// NewSigningLog creates a SigningLog from a hex-encoded private key.
func NewSigningLog(hexKey string, next creditledger.TransactionLog) (*SigningLog, error) {
	privKey, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &SigningLog{privKey: privKey, next: next}, nil
}

// PublicKeyHex returns the compressed public key for verification.
func (l *SigningLog) PublicKeyHex() string {
	return hex.EncodeToString(l.privKey.PubKey().SerializeCompressed())
}

// Append signs the entry and forwards it to the wrapped log.
func (l *SigningLog) Append(ctx context.Context, tx creditledger.Transaction) error {
	tx.Signature = sign(l.privKey, tx)
	return l.next.Append(ctx, tx)
}

// List returns the wrapped log's entries, most recent first.
func (l *SigningLog) List(ctx context.Context, userID string, limit int) ([]creditledger.Transaction, error) {
	return l.next.List(ctx, userID, limit)
}

// Verify checks an entry's signature against a hex-encoded compressed
// public key.
func Verify(pubKeyHex string, tx creditledger.Transaction) (bool, error) {
	keyBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("audit: invalid public key hex: %w", err)
	}
	pubKey, err := secp256k1.ParsePubKey(keyBytes)
	if err != nil {
		return false, fmt.Errorf("audit: parse public key: %w", err)
	}

	rawSig, err := base64.StdEncoding.DecodeString(tx.Signature)
	if err != nil || len(rawSig) != 64 {
		return false, nil
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(rawSig[:32]); overflow {
		return false, nil
	}
	if overflow := s.SetByteSlice(rawSig[32:]); overflow {
		return false, nil
	}

	digest := digest(tx)
	return ecdsa.NewSignature(&r, &s).Verify(digest[:], pubKey), nil
}

// canonical builds the byte form the signature covers. Every field that
// affects reconciliation is included; the signature field itself is not.
func canonical(tx creditledger.Transaction) []byte {
	parts := []string{
		tx.ID,
		tx.UserID,
		string(tx.Type),
		strconv.FormatInt(tx.Amount, 10),
		strconv.FormatInt(tx.Delta.Fresh, 10),
		strconv.FormatInt(tx.Delta.Carryover, 10),
		strconv.FormatInt(tx.Delta.Purchased, 10),
		strconv.FormatInt(tx.After.Fresh, 10),
		strconv.FormatInt(tx.After.Carryover, 10),
		strconv.FormatInt(tx.After.Purchased, 10),
		strconv.FormatInt(tx.Timestamp.UnixNano(), 10),
	}
	return []byte(strings.Join(parts, "|"))
}

func digest(tx creditledger.Transaction) [32]byte {
	return sha256.Sum256(canonical(tx))
}

// sign produces the base64-encoded raw signature (r || s, 64 bytes).
// RFC6979 deterministic, low-S by default in dcrd.
func sign(privKey *secp256k1.PrivateKey, tx creditledger.Transaction) string {
	d := digest(tx)
	compactSig := ecdsa.SignCompact(privKey, d[:], false)
	// compactSig: [recovery_flag, r(32), s(32)] = 65 bytes
	return base64.StdEncoding.EncodeToString(compactSig[1:65])
}

// parsePrivateKey decodes a hex string into a secp256k1 private key.
func parsePrivateKey(hexKey string) (*secp256k1.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	hexKey = strings.TrimPrefix(hexKey, "0X")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("audit: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("audit: private key must be 32 bytes, got %d", len(keyBytes))
	}

	privKey := secp256k1.PrivKeyFromBytes(keyBytes)
	if privKey.Key.IsZero() {
		return nil, fmt.Errorf("audit: private key is zero")
	}

	return privKey, nil
}
