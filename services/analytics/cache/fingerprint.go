// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"
)

// Canonical returns a stable JSON serialization of v.
//
// # Description
//
// v is marshalled, decoded into generic maps and re-marshalled, so object
// keys come out sorted regardless of struct field order or map iteration.
// Numbers keep their literal form.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// Fingerprint keys a cached result by H(agent_id ∥ identifier ∥ config).
//
// # Description
//
// config should already have its defaults filled in, so that two configs
// differing only in explicitly-spelled defaults hash the same. The parts
// are separated by a NUL byte so ("ab", "c") and ("a", "bc") differ.
//
// # Outputs
//
//   - string: Hex-encoded 256-bit blake3 digest.
//   - error: Non-nil if config cannot be serialized.
func Fingerprint(agentID, identifier string, config any) (string, error) {
	canonical, err := Canonical(config)
	if err != nil {
		return "", err
	}
	h := blake3.New()
	_, _ = h.Write([]byte(agentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(identifier))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Digest returns a short blake3 digest of data, used to fold a batch's
// content into a fingerprint config.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
