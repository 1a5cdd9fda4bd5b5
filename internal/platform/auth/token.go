package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

type tokenRecord struct {
	digest [sha256.Size]byte
	id     Identity
}

// TokenAuthenticator accepts "Authorization: Bearer <token>" headers.
// Only digests of the configured tokens are kept in memory.
type TokenAuthenticator struct {
	records []tokenRecord
}

func NewTokenAuthenticator(entries []TokenEntry) (*TokenAuthenticator, error) {
	if len(entries) == 0 {
		return nil, errors.New("at least one token is required")
	}
	records := make([]tokenRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, tokenRecord{
			digest: sha256.Sum256([]byte(e.Token)),
			id:     Identity{Subject: e.Subject, Roles: []string{e.Role}},
		})
	}
	return &TokenAuthenticator{records: records}, nil
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return Identity{}, ErrUnauthenticated
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Identity{}, ErrInvalidToken
	}

	digest := sha256.Sum256([]byte(strings.TrimSpace(token)))
	var match *Identity
	for i := range a.records {
		if subtle.ConstantTimeCompare(digest[:], a.records[i].digest[:]) == 1 {
			match = &a.records[i].id
		}
	}
	if match == nil {
		return Identity{}, ErrInvalidToken
	}
	return *match, nil
}
