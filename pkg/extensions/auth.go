// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrUnauthorized indicates the caller could not be authenticated.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo describes an authenticated caller.
type AuthInfo struct {
	// UserID is the caller's stable identifier.
	UserID string

	// AgentID is the agent id that requests from this caller run under.
	AgentID string

	// Roles granted to the caller.
	Roles []string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// # Description
//
// Validate returns ErrUnauthorized (possibly wrapped) when the token is
// missing or wrong. Any other error is a provider failure.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// DefaultAPIAgentID is the agent id HTTP-triggered runs are attributed to.
const DefaultAPIAgentID = "api_agent_1"

// NopAuthProvider accepts every request. It is used when no secret key is
// configured.
type NopAuthProvider struct{}

func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", AgentID: DefaultAPIAgentID, Roles: []string{"admin"}}, nil
}

// TokenAuthProvider accepts a single shared bearer token.
//
// # Description
//
// The secret is sealed in a memguard enclave at construction. Each
// Validate opens the enclave, compares in constant time, and destroys the
// plaintext buffer before returning.
//
// # Thread Safety
//
// Safe for concurrent use. Destroy must not race with Validate.
type TokenAuthProvider struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewTokenAuthProvider seals secret. The caller's slice is wiped.
func NewTokenAuthProvider(secret []byte) (*TokenAuthProvider, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret key cannot be empty")
	}
	return &TokenAuthProvider{enclave: memguard.NewEnclave(secret)}, nil
}

func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.enclave == nil {
		return nil, errors.New("token provider destroyed")
	}

	buf, err := p.enclave.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	if subtle.ConstantTimeCompare(buf.Bytes(), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "token-user", AgentID: DefaultAPIAgentID, Roles: []string{"operator"}}, nil
}

// Destroy drops the sealed secret. Later Validate calls fail.
func (p *TokenAuthProvider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enclave = nil
}

var (
	_ AuthProvider = (*NopAuthProvider)(nil)
	_ AuthProvider = (*TokenAuthProvider)(nil)
)
