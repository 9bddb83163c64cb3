// Package oidc implements OpenID Connect sign-in for members. The consortium's
// identity provider authenticates the person; the backend only trusts the
// verified ID token's subject and email, which is what transfer acceptance and
// profile provisioning key on.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/consortium-members/membership-backend/internal/config"
)

// ErrEmailNotVerified is returned when the IdP states the email is unverified.
var ErrEmailNotVerified = errors.New("identity provider reports the email address as unverified")

// UserInfo is the identity extracted from a verified ID token
type UserInfo struct {
	Subject string
	Email   string
	Name    string
}

// Provider signs members in against the consortium IdP.
type Provider struct {
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// New discovers the issuer and builds a Provider. ctx bounds discovery only.
func New(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, errors.New("OIDC is not enabled")
	}
	for field, v := range map[string]string{
		"issuer URL":    cfg.IssuerURL,
		"client ID":     cfg.ClientID,
		"client secret": cfg.ClientSecret,
	} {
		if v == "" {
			return nil, fmt.Errorf("OIDC %s is required", field)
		}
	}

	discovered, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("OIDC discovery for %s: %w", cfg.IssuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	return &Provider{
		verifier: discovered.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     discovered.Endpoint(),
			Scopes:       scopes,
		},
	}, nil
}

// AuthCodeURL is where the browser is sent to sign in; nonce comes back inside the ID token.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Authenticate exchanges the authorization code, verifies the returned ID token
// (including its nonce) and extracts the member's identity.
func (p *Provider) Authenticate(ctx context.Context, code, nonce string) (*UserInfo, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("token response did not include an id_token")
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.New("ID token nonce mismatch")
	}

	return ExtractUserInfo(idToken)
}

// ExtractUserInfo reads the identity claims from a verified ID token. The email
// is lower-cased; a token that explicitly marks it unverified is rejected.
func ExtractUserInfo(idToken *oidc.IDToken) (*UserInfo, error) {
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	if claims.Sub == "" {
		return nil, errors.New("ID token has no subject")
	}
	if claims.Email == "" {
		return nil, errors.New("ID token has no email")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	email := strings.ToLower(strings.TrimSpace(claims.Email))
	name := claims.Name
	if name == "" {
		name = email
	}
	return &UserInfo{Subject: claims.Sub, Email: email, Name: name}, nil
}
