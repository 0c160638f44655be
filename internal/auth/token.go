/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package auth verifies control-channel bearer credentials. Agents accept
// either a static token checked against a bcrypt hash, or a JWT signed with a
// shared HS256 key.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashToken produces a bcrypt hash suitable for agent configuration.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// Verifier checks presented bearer tokens. At least one of TokenHash or
// JWTSecret must be set.
type Verifier struct {
	TokenHash string
	JWTSecret []byte
}

// Verify checks a raw bearer token against the configured credential modes.
func (v *Verifier) Verify(token string) error {
	if token == "" {
		return fmt.Errorf("missing bearer token")
	}
	if v.TokenHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(v.TokenHash), []byte(token)); err == nil {
			return nil
		}
	}
	if len(v.JWTSecret) > 0 {
		if _, err := Parse(v.JWTSecret, token); err == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid bearer token")
}

// VerifyRequest checks the Authorization header of an inbound request.
func (v *Verifier) VerifyRequest(r *http.Request) error {
	return v.Verify(BearerToken(r))
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
