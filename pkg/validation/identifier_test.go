// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "A", false},
		{"with punctuation", "cell-042/site.7", false},
		{"with space", "site 7", false},
		{"unicode letters", "zürich-north", false},
		{"max length", strings.Repeat("x", MaxIdentifierLength), false},

		{"empty", "", true},
		{"too long", strings.Repeat("x", MaxIdentifierLength+1), true},
		{"newline", "a\nb", true},
		{"tab", "a\tb", true},
		{"nul byte", "a\x00b", true},
		{"invalid utf8", "a\xffb", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidIdentifier) {
				t.Errorf("error %v does not wrap ErrInvalidIdentifier", err)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	got, err := SanitizeIdentifier("  cell-1 ")
	if err != nil || got != "cell-1" {
		t.Errorf("SanitizeIdentifier() = (%q, %v), want (cell-1, nil)", got, err)
	}
	if _, err := SanitizeIdentifier("   "); err == nil {
		t.Error("SanitizeIdentifier(blank) should fail")
	}
}

func TestStruct(t *testing.T) {
	type request struct {
		Identifier string `validate:"identifier"`
		Kind       string `validate:"required,oneof=csv sql"`
	}

	if err := Struct(request{Identifier: "A", Kind: "csv"}); err != nil {
		t.Errorf("valid struct rejected: %v", err)
	}

	err := Struct(request{Identifier: "", Kind: "xml"})
	if err == nil {
		t.Fatal("invalid struct accepted")
	}
	msg := err.Error()
	if !strings.Contains(msg, "Identifier") || !strings.Contains(msg, "oneof=csv sql") {
		t.Errorf("error message %q lacks field details", msg)
	}
}
