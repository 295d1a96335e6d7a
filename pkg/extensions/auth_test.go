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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopAuthProvider_AcceptsAnything(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIAgentID, info.AgentID)
	assert.True(t, info.HasRole("admin"))
}

func TestTokenAuthProvider(t *testing.T) {
	p, err := NewTokenAuthProvider([]byte("s3cret"))
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, DefaultAPIAgentID, info.AgentID)
	assert.False(t, info.HasRole("admin"))

	_, err = p.Validate(context.Background(), "wrong")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = p.Validate(context.Background(), "")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	p.Destroy()
	_, err = p.Validate(context.Background(), "s3cret")
	assert.Error(t, err)
}

func TestNewTokenAuthProvider_RejectsEmpty(t *testing.T) {
	_, err := NewTokenAuthProvider(nil)
	assert.Error(t, err)
}

func TestServiceOptions_WithAuth(t *testing.T) {
	opts := DefaultOptions()
	_, isNop := opts.AuthProvider.(*NopAuthProvider)
	assert.True(t, isNop)

	p, err := NewTokenAuthProvider([]byte("k"))
	require.NoError(t, err)
	opts = opts.WithAuth(p)
	assert.Same(t, p, opts.AuthProvider)
}
