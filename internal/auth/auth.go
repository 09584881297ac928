// Package auth checks the shared-secret credential agents send in X-API-Key.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Header is the request header carrying the credential.
const Header = "X-API-Key"

var (
	// ErrMissingKey means no credential was supplied.
	ErrMissingKey = errors.New("missing API key header")
	// ErrInvalidKey means the credential is not in the accepted set.
	ErrInvalidKey = errors.New("invalid API key")
)

// KeySet is the configured set of accepted credentials.
type KeySet struct {
	keys [][]byte
}

// NewKeySet builds a KeySet, ignoring blank entries.
func NewKeySet(keys []string) *KeySet {
	ks := &KeySet{}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			ks.keys = append(ks.keys, []byte(k))
		}
	}
	return ks
}

// Len returns the number of accepted keys.
func (ks *KeySet) Len() int { return len(ks.keys) }

// Check verifies a supplied credential. Every accepted key is compared in
// constant time so the response time does not reveal which key matched.
func (ks *KeySet) Check(supplied string) error {
	if supplied == "" {
		return ErrMissingKey
	}
	s := []byte(supplied)
	match := 0
	for _, k := range ks.keys {
		match |= subtle.ConstantTimeCompare(s, k)
	}
	if match != 1 {
		return ErrInvalidKey
	}
	return nil
}
