package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"z402-facilitator/pkg/zaddr"
)

// HMACSignatureService implements ports.Signer using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using key.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(key string, payload string) (string, error) {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks if signature matches HMAC-SHA256(key, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(key string, payload string, signature string) bool {
	expected, _ := s.Sign(key, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidKey accepts any well-formed Zcash address: under this scheme clients
// key the MAC with their own address.
func (s *HMACSignatureService) ValidKey(key string) bool {
	_, err := zaddr.Classify(key)
	return err == nil
}
