// Package internal holds random-material and hashing helpers shared by the
// portalauth stores. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ChallengeID is the compact binary form of a challenge or session id.
type ChallengeID [16]byte

const stateNonceBytes = 24

// NewChallengeID returns 128 bits of CSPRNG material.
func NewChallengeID() (ChallengeID, error) {
	var id ChallengeID
	_, err := rand.Read(id[:])
	return id, err
}

func (c ChallengeID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(c[:])
}

// ParseChallengeID decodes the string form produced by String.
func ParseChallengeID(s string) (ChallengeID, error) {
	var id ChallengeID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(raw) != len(id) {
		return id, errors.New("invalid challenge id size")
	}

	copy(id[:], raw)
	return id, nil
}

// NewOTP returns a fixed-length numeric one-time code drawn digit by digit
// from the CSPRNG, so leading zeros are as likely as any other digit.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewStateNonce mints the random portion of an OAuth state value.
func NewStateNonce() (string, error) {
	raw := make([]byte, stateNonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashCode hashes a one-time code together with its scoping key so equal
// codes issued to different targets never share a stored hash.
func HashCode(scope, code string) [32]byte {
	return sha256.Sum256([]byte(scope + "\x00" + code))
}

// HashValue hashes an arbitrary identifier value for use as a redis key
// component, keeping raw phone numbers and emails out of key names.
func HashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
