// Package credential verifies encoded user and client secrets.
//
// Encoded values carry their scheme as a prefix: "{bcrypt}$2a$..." or
// "{noop}plain". A value without a prefix is compared as plain text.
package credential

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	SchemeNoop   = "noop"
	SchemeBcrypt = "bcrypt"
)

var (
	// ErrMismatch is returned when the raw secret does not match
	ErrMismatch = errors.New("credential mismatch")
	// ErrUnknownScheme is returned for an unsupported {scheme} prefix
	ErrUnknownScheme = errors.New("unknown credential scheme")
)

// Split separates the scheme prefix from the encoded value
func Split(encoded string) (scheme, value string) {
	if strings.HasPrefix(encoded, "{") {
		if end := strings.Index(encoded, "}"); end > 0 {
			return encoded[1:end], encoded[end+1:]
		}
	}
	return SchemeNoop, encoded
}

// Verify checks raw against encoded. It returns nil on a match.
func Verify(encoded, raw string) error {
	scheme, value := Split(encoded)
	switch scheme {
	case SchemeNoop:
		if subtle.ConstantTimeCompare([]byte(value), []byte(raw)) != 1 {
			return ErrMismatch
		}
		return nil
	case SchemeBcrypt:
		err := bcrypt.CompareHashAndPassword([]byte(value), []byte(raw))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatch
		}
		if err != nil {
			return fmt.Errorf("failed to compare bcrypt hash: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
}

// Encode hashes raw with bcrypt and returns the prefixed value
func Encode(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash credential: %w", err)
	}
	return "{" + SchemeBcrypt + "}" + string(hash), nil
}
