package model

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// ApiKey attributes submissions to an owner. Only the salted hash of the
// secret is stored.
type ApiKey struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Prefix   string    `json:"prefix"`
	Salt     string    `json:"salt"`
	Hash     string    `json:"hash"`
	Active   bool      `json:"active"`
	LastUsed time.Time `json:"last_used,omitempty"`
}

// HashSecret computes the salted SHA-256 digest of a key secret.
func HashSecret(salt, secret string) string {
	sum := sha256.Sum256([]byte(salt + secret))
	return hex.EncodeToString(sum[:])
}

// NewSalt returns a fresh random hex salt.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Verify checks a presented secret against the stored hash in constant time.
func (k *ApiKey) Verify(secret string) bool {
	if !k.Active {
		return false
	}
	expected := HashSecret(k.Salt, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(k.Hash)) == 1
}
