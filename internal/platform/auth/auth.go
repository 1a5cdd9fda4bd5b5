package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ecomdwh/ecomdwh-go/internal/platform/env"
)

type Mode string

const (
	ModeToken    Mode = "token"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Identity struct {
	Subject string
	Roles   []string
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// Config holds the API tokens accepted by the quality service. Tokens are
// declared as subject:role:token entries separated by commas, e.g.
// "airflow:editor:s3cr3t,grafana:viewer:r34d".
type Config struct {
	Mode   Mode
	Tokens []TokenEntry
}

type TokenEntry struct {
	Subject string
	Role    string
	Token   string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("DWH_AUTH_MODE", string(ModeToken))))
	var mode Mode
	switch modeRaw {
	case string(ModeToken):
		mode = ModeToken
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("DWH_AUTH_MODE must be one of: token, disabled (got %q)", modeRaw)
	}

	tokens, err := parseTokens(env.List("DWH_API_TOKENS", nil))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Mode: mode, Tokens: tokens}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeToken:
		if len(c.Tokens) == 0 {
			return errors.New("DWH_API_TOKENS must be non-empty when DWH_AUTH_MODE=token")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// Authenticator returns the authenticator matching the configured mode.
func (c Config) Authenticator() (Authenticator, error) {
	switch c.Mode {
	case ModeDisabled:
		return anonymousAuthenticator{}, nil
	default:
		return NewTokenAuthenticator(c.Tokens)
	}
}

func parseTokens(items []string) ([]TokenEntry, error) {
	out := make([]TokenEntry, 0, len(items))
	for i, item := range items {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("DWH_API_TOKENS[%d] must be subject:role:token", i)
		}
		entry := TokenEntry{
			Subject: strings.TrimSpace(parts[0]),
			Role:    strings.ToLower(strings.TrimSpace(parts[1])),
			Token:   strings.TrimSpace(parts[2]),
		}
		if entry.Subject == "" || entry.Token == "" {
			return nil, fmt.Errorf("DWH_API_TOKENS[%d] subject and token are required", i)
		}
		if !KnownRole(entry.Role) {
			return nil, fmt.Errorf("DWH_API_TOKENS[%d] unknown role %q", i, entry.Role)
		}
		out = append(out, entry)
	}
	return out, nil
}

type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous", Roles: []string{RoleAdmin}}, nil
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}
