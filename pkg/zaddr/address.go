// Package zaddr classifies and validates Zcash payment addresses.
//
// Three address classes are recognised: transparent Base58Check addresses
// (t1/t3), Sapling shielded bech32 addresses (zs1), and unified bech32m
// addresses (u1). Shielded and unified addresses hide the receiving key,
// which is why the confirmation tracker cannot cross-check the recipient
// for them.
package zaddr

import (
	"crypto/sha256"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Class identifies the kind of Zcash address.
type Class string

const (
	ClassTransparent Class = "transparent"
	ClassSapling     Class = "sapling"
	ClassUnified     Class = "unified"
)

var ErrInvalidAddress = errors.New("zaddr: invalid address")

// Mainnet two-byte Base58Check version prefixes.
var transparentPrefixes = [][2]byte{
	{0x1c, 0xb8}, // t1, P2PKH
	{0x1c, 0xbd}, // t3, P2SH
}

// Classify returns the class of addr, or ErrInvalidAddress if it is not a
// well-formed address of any known class.
func Classify(addr string) (Class, error) {
	switch {
	case strings.HasPrefix(addr, "t1"), strings.HasPrefix(addr, "t3"):
		if err := validateTransparent(addr); err != nil {
			return "", err
		}
		return ClassTransparent, nil
	case strings.HasPrefix(addr, "zs1"):
		if err := validateBech32(addr, "zs"); err != nil {
			return "", err
		}
		return ClassSapling, nil
	case strings.HasPrefix(addr, "u1"):
		if err := validateBech32(addr, "u"); err != nil {
			return "", err
		}
		return ClassUnified, nil
	default:
		return "", ErrInvalidAddress
	}
}

// IsShielded reports whether addr belongs to a privacy-preserving class.
// Returns false for invalid addresses.
func IsShielded(addr string) bool {
	class, err := Classify(addr)
	if err != nil {
		return false
	}
	return class == ClassSapling || class == ClassUnified
}

// Valid reports whether addr is a well-formed address of any class.
func Valid(addr string) bool {
	_, err := Classify(addr)
	return err == nil
}

// validateTransparent checks the Base58Check encoding: 2-byte version prefix,
// 20-byte hash, 4-byte double-SHA256 checksum.
func validateTransparent(addr string) error {
	decoded := base58.Decode(addr)
	if len(decoded) != 26 {
		return ErrInvalidAddress
	}

	payload := decoded[:22]
	checksum := decoded[22:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return ErrInvalidAddress
		}
	}

	prefix := [2]byte{decoded[0], decoded[1]}
	for _, p := range transparentPrefixes {
		if prefix == p {
			return nil
		}
	}
	return ErrInvalidAddress
}

// validateBech32 verifies the checksum and expected human-readable prefix.
// DecodeNoLimit accepts both bech32 and bech32m checksums; unified addresses
// regularly exceed the 90-character limit the plain Decode enforces.
func validateBech32(addr, wantHRP string) error {
	hrp, _, err := bech32.DecodeNoLimit(strings.ToLower(addr))
	if err != nil {
		return ErrInvalidAddress
	}
	if hrp != wantHRP {
		return ErrInvalidAddress
	}
	return nil
}
