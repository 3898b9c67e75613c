package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// ECDSASignatureService implements ports.Signer over secp256k1.
// Payloads are hashed with SHA-256 before signing. Signatures are DER,
// hex-encoded. Keys are hex: a 32-byte private key for Sign, a 33-byte
// compressed public key for Verify.
type ECDSASignatureService struct{}

// NewECDSASignatureService creates a new secp256k1 signature service.
func NewECDSASignatureService() *ECDSASignatureService {
	return &ECDSASignatureService{}
}

// Sign signs SHA-256(payload) with the hex-encoded private key.
func (s *ECDSASignatureService) Sign(key string, payload string) (string, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decoding private key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}

	priv := secp256k1.PrivKeyFromBytes(raw)
	digest := sha256.Sum256([]byte(payload))
	sig := ecdsa.Sign(priv, digest[:])
	return hex.EncodeToString(sig.Serialize()), nil
}

// ValidKey accepts a hex-encoded compressed secp256k1 public key.
func (s *ECDSASignatureService) ValidKey(key string) bool {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return false
	}
	_, err = secp256k1.ParsePubKey(raw)
	return err == nil
}

// Verify checks a hex DER signature over SHA-256(payload) against the
// hex-encoded compressed public key. Any parse failure is a verification
// failure, not an error.
func (s *ECDSASignatureService) Verify(key string, payload string, signature string) bool {
	pubBytes, err := hex.DecodeString(key)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(payload))
	return sig.Verify(digest[:], pub)
}
