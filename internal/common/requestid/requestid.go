package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxRequestIDLength is the maximum total length (same as UUID: 36 chars)
	MaxRequestIDLength = 36
	// PrefixLength is the length of the random prefix
	PrefixLength = 5
	// MaxCustomIDLength is the max length for the sanitized custom portion
	MaxCustomIDLength = MaxRequestIDLength - PrefixLength - 1
)

var (
	// sanitizeRegex removes all characters except a-z, A-Z, 0-9, and hyphens
	sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	// consecutiveHyphensRegex matches one or more consecutive hyphens
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Generate creates a unique request ID from an optional client-supplied ID.
// A non-empty customID is sanitized (keeping only [a-zA-Z0-9-]) and prefixed
// with 5 random characters so hostile clients cannot forge collisions.
// Format: {5-random-chars}-{sanitized-custom-id}.
// If customID is empty or becomes empty after sanitization, falls back to UUID.
func Generate(customID string) string {
	sanitized := strings.ReplaceAll(customID, " ", "-")
	sanitized = sanitizeRegex.ReplaceAllString(sanitized, "")
	sanitized = consecutiveHyphensRegex.ReplaceAllString(sanitized, "-")
	sanitized = strings.TrimPrefix(sanitized, "-")
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		return uuid.New().String()
	}

	if len(sanitized) > MaxCustomIDLength {
		sanitized = sanitized[:MaxCustomIDLength]
	}

	return randomPrefix() + "-" + sanitized
}

// randomPrefix creates a 5-character random string using crypto/rand
func randomPrefix() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return uuid.New().String()[:PrefixLength]
	}
	return hex.EncodeToString(bytes)[:PrefixLength]
}
