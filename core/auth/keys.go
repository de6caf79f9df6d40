package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"resetwatch/config"
)

type contextKey struct{}

// PrincipalContextKey carries the authenticated *Principal on request contexts.
var PrincipalContextKey = contextKey{}

var ErrInvalidKey = errors.New("invalid api key")

type Principal struct {
	Name string
	Role string
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok && p != nil
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

type keyEntry struct {
	name string
	hash []byte
	role string
}

// Keyring verifies plain API keys against configured bcrypt hashes. Verified
// keys are remembered by digest so repeat requests skip bcrypt.
type Keyring struct {
	keys     []keyEntry
	verified *cache.Cache
}

const verifiedTTL = 10 * time.Minute

func NewKeyring(keys []config.APIKeyConfig) (*Keyring, error) {
	ring := &Keyring{verified: cache.New(verifiedTTL, 2*verifiedTTL)}
	for _, k := range keys {
		hash := strings.TrimSpace(k.Hash)
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		ring.keys = append(ring.keys, keyEntry{name: k.Name, hash: []byte(hash), role: k.Role})
	}
	return ring, nil
}

func (k *Keyring) Empty() bool {
	return k == nil || len(k.keys) == 0
}

func (k *Keyring) Verify(plain string) (*Principal, error) {
	plain = strings.TrimSpace(plain)
	if k.Empty() || plain == "" {
		return nil, ErrInvalidKey
	}
	digest := digestOf(plain)
	if v, ok := k.verified.Get(digest); ok {
		p := v.(Principal)
		return &p, nil
	}
	for _, e := range k.keys {
		if bcrypt.CompareHashAndPassword(e.hash, []byte(plain)) == nil {
			p := Principal{Name: e.name, Role: e.role}
			k.verified.SetDefault(digest, p)
			return &p, nil
		}
	}
	return nil, ErrInvalidKey
}

// HashKey returns the bcrypt hash to put into api.keys[].hash.
func HashKey(plain string) (string, error) {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return "", errors.New("empty key")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func digestOf(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
