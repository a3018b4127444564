// Package auth resolves the bearer token used for backend calls from the
// places the client has stored it over time.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/content_companion/internal/storage"
	"golang.org/x/oauth2"
)

const (
	collection = "auth"

	// PrimaryKey is where the current client stores the token.
	PrimaryKey = "token"
	// LegacyKey is where older releases stored it.
	LegacyKey = "userToken"
	// SecureKey is the secure-store entry checked last.
	SecureKey = "auth_token"
)

var ErrNoToken = errors.New("no auth token available")

// SecureStore is a platform secret store.
type SecureStore interface {
	Get(key string) (string, error)
}

// Resolver looks a token up in order: primary key, legacy key, secure store.
// It never persists anything it finds.
type Resolver struct {
	kv     storage.KV
	secure SecureStore
}

var _ oauth2.TokenSource = (*Resolver)(nil)

func NewResolver(kv storage.KV, secure SecureStore) *Resolver {
	return &Resolver{kv: kv, secure: secure}
}

// Token implements oauth2.TokenSource.
func (r *Resolver) Token() (*oauth2.Token, error) {
	return r.Resolve(context.Background())
}

// Resolve returns the first non-empty token or ErrNoToken.
func (r *Resolver) Resolve(ctx context.Context) (*oauth2.Token, error) {
	for _, key := range []string{PrimaryKey, LegacyKey} {
		raw, err := r.kv.Get(ctx, collection, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		if token := decodeToken(raw); token != "" {
			return bearer(token), nil
		}
	}

	if r.secure != nil {
		token, err := r.secure.Get(SecureKey)
		if err != nil && !errors.Is(err, ErrNoToken) {
			return nil, fmt.Errorf("failed to read secure store: %w", err)
		}

		if token = strings.TrimSpace(token); token != "" {
			return bearer(token), nil
		}
	}

	return nil, ErrNoToken
}

// Store saves token under the primary key. Used by the login flow and to seed
// the store from configuration.
func (r *Resolver) Store(ctx context.Context, token string) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}

	return r.kv.Put(ctx, collection, PrimaryKey, raw)
}

// Clear removes the token from both storage keys, used after a 401 the user
// could not recover from.
func (r *Resolver) Clear(ctx context.Context) error {
	return errors.Join(
		r.kv.Delete(ctx, collection, PrimaryKey),
		r.kv.Delete(ctx, collection, LegacyKey),
	)
}

// decodeToken accepts both a JSON string and a bare value; older releases
// wrote the token without JSON encoding.
func decodeToken(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func bearer(token string) *oauth2.Token {
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
}
