// Package auth identifies API callers from OIDC bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Config holds OIDC provider configuration.
type Config struct {
	// Issuer is the provider URL used for discovery.
	Issuer   string
	ClientID string

	// Audience, when set, replaces ClientID in the ID token audience check.
	Audience string
}

// Provider verifies tokens issued by one OIDC provider.
type Provider struct {
	oidc     *oidc.Provider
	idTokens *oidc.IDTokenVerifier
}

// NewProvider fetches the issuer's discovery document and builds a verifier.
func NewProvider(ctx context.Context, cfg *Config) (*Provider, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("oidc config is required")
	case cfg.Issuer == "":
		return nil, errors.New("oidc issuer is required")
	case cfg.ClientID == "":
		return nil, errors.New("oidc client id is required")
	}

	p, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.Issuer, err)
	}

	audience := cfg.ClientID
	if cfg.Audience != "" {
		audience = cfg.Audience
	}
	return &Provider{
		oidc:     p,
		idTokens: p.Verifier(&oidc.Config{ClientID: audience}),
	}, nil
}

// Verify accepts a signed ID token, falling back to the userinfo endpoint for
// opaque access tokens.
func (p *Provider) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	claims, err := p.verifyIDToken(ctx, rawToken)
	if err == nil {
		return claims, nil
	}
	claims, uerr := p.userInfo(ctx, rawToken)
	if uerr != nil {
		return nil, fmt.Errorf("%w (userinfo: %v)", err, uerr)
	}
	return claims, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, rawToken string) (*Claims, error) {
	tok, err := p.idTokens.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	var claims Claims
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("decode id token claims: %w", err)
	}
	claims.Expiry = tok.Expiry
	return &claims, nil
}

func (p *Provider) userInfo(ctx context.Context, accessToken string) (*Claims, error) {
	info, err := p.oidc.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, err
	}
	claims := Claims{Subject: info.Subject, Email: info.Email}
	// Missing or oddly typed optional claims leave the fields empty.
	_ = info.Claims(&claims)
	claims.Subject, claims.Email = info.Subject, info.Email
	return &claims, nil
}

// Claims are the token claims the dispatcher reads.
type Claims struct {
	Subject           string    `json:"sub"`
	PreferredUsername string    `json:"preferred_username,omitempty"`
	Email             string    `json:"email,omitempty"`
	Groups            []string  `json:"groups,omitempty"`
	Roles             []string  `json:"roles,omitempty"`
	Expiry            time.Time `json:"-"`
}

// Username returns the login name used to own documents and name jobs:
// preferred_username, else the local part of the email, else the subject.
func (c *Claims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	if at := strings.IndexByte(c.Email, '@'); at > 0 {
		return c.Email[:at]
	}
	return c.Subject
}

// Grants reports whether name appears among the caller's roles or groups.
func (c *Claims) Grants(name string) bool {
	return name != "" && (slices.Contains(c.Roles, name) || slices.Contains(c.Groups, name))
}

// IsExpired reports whether the token carried an expiry that has passed.
func (c *Claims) IsExpired() bool {
	return !c.Expiry.IsZero() && time.Now().After(c.Expiry)
}
