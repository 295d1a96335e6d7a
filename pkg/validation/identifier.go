// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that reach
// storage keys, SQL parameters, cache keys and time-series tags.
//
// Identifiers partition every piece of per-dataset state, so they are
// validated once at the edge (HTTP handlers, CLI) and trusted afterwards.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// MaxIdentifierLength bounds identifiers, counted in runes.
const MaxIdentifierLength = 255

// ErrInvalidIdentifier is wrapped by every identifier validation failure.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ValidateIdentifier checks that id is a non-empty printable string of at
// most MaxIdentifierLength runes.
//
// # Description
//
// Control characters, invalid UTF-8 and non-printable runes are rejected.
// Spaces are allowed because identifiers are opaque to the system.
//
// # Examples
//
//	ValidateIdentifier("cell-042")   // nil
//	ValidateIdentifier("")           // error
//	ValidateIdentifier("a\nb")       // error
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidIdentifier)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidIdentifier)
	}
	if n := utf8.RuneCountInString(id); n > MaxIdentifierLength {
		return fmt.Errorf("%w: %d characters exceeds limit of %d", ErrInvalidIdentifier, n, MaxIdentifierLength)
	}
	for _, r := range id {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%w: contains non-printable character %U", ErrInvalidIdentifier, r)
		}
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the result.
func SanitizeIdentifier(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// =============================================================================
// Struct validation
// =============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator instance with the "identifier"
// tag registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return ValidateIdentifier(fl.Field().String()) == nil
		})
	})
	return validate
}

// Struct validates v using its `validate` tags and flattens the failures
// into a single readable error.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
