// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions holds the integration seams a deployment can swap:
// today that is request authentication.
//
// Defaults are permissive so that a local run needs no configuration:
//
//	opts := extensions.DefaultOptions()                // NopAuthProvider
//	opts = opts.WithAuth(tokenProvider)               // shared bearer token
package extensions

// ServiceOptions bundles the pluggable providers for the HTTP service.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens on /api routes.
	AuthProvider AuthProvider
}

// DefaultOptions returns options with no-op providers.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{AuthProvider: &NopAuthProvider{}}
}

// WithAuth returns a copy with provider installed.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}
