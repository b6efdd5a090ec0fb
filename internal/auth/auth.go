// Package auth issues and verifies API keys for agents and guards the admin
// surface with a bcrypt-hashed operator key.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/agentrail/meterbank/internal/agent"
)

// keyPrefixLen is how many leading characters of the plaintext key are kept
// for identification in listings.
const keyPrefixLen = 17

// APIKey holds the hashed key and a short prefix for identification.
type APIKey struct {
	Hash   string
	Prefix string
}

// AgentLookup is the interface for retrieving agents by their key hash.
type AgentLookup interface {
	GetByKeyHash(ctx context.Context, hash string) (*agent.Agent, error)
}

// Service provides authentication operations backed by an agent store.
type Service struct {
	store AgentLookup
}

// NewService creates a new authentication service.
func NewService(store AgentLookup) *Service {
	return &Service{store: store}
}

// GenerateAPIKey creates a new API key with the "meterbank_" prefix followed
// by 32 URL-safe random characters. It returns the APIKey struct (containing
// the hash and prefix) and the full plaintext key. The plaintext is shown to
// the caller exactly once; only the hash is stored.
func GenerateAPIKey() (APIKey, string, error) {
	b := make([]byte, 24) // 24 bytes -> 32 base64url chars
	if _, err := rand.Read(b); err != nil {
		return APIKey{}, "", fmt.Errorf("generating random bytes: %w", err)
	}

	random := base64.RawURLEncoding.EncodeToString(b)
	plaintext := "meterbank_" + random

	key := APIKey{
		Hash:   HashKey(plaintext),
		Prefix: plaintext[:keyPrefixLen],
	}

	return key, plaintext, nil
}

// HashKey returns the hex-encoded SHA-256 hash of the given plaintext key.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// HashAdminKey bcrypt-hashes an operator key for storage in config.
func HashAdminKey(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing admin key: %w", err)
	}
	return string(h), nil
}

// VerifyAdminKey reports whether plaintext matches the stored bcrypt hash.
func VerifyAdminKey(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
