// Package auth models the API keys POS terminals authenticate with.
package auth

import "context"

// Key is a provisioned terminal credential. Scopes name the API areas the
// key may call; a key without scopes may call everything.
type Key struct {
	ID     string
	Hash   string
	Name   string
	Scopes []string
}

// Allows reports whether the key may call the given API area.
func (k *Key) Allows(scope string) bool {
	if len(k.Scopes) == 0 {
		return true
	}
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository looks keys up by the HMAC hash of their secret.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Key, error)
}
