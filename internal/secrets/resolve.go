// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package secrets

import (
	"strings"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

const scheme = "keyring://"

// IsRef reports whether value is a keyring:// reference.
func IsRef(value string) bool {
	return strings.HasPrefix(value, scheme)
}

// ParseRef splits keyring://service/key. The key may itself contain
// slashes.
func ParseRef(ref string) (service, key string, err error) {
	if !IsRef(ref) {
		return "", "", dmerr.Errorf(dmerr.CodeSecretInvalidInput, "not a keyring reference: %q", ref)
	}
	service, key, ok := strings.Cut(strings.TrimPrefix(ref, scheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", dmerr.Errorf(dmerr.CodeSecretInvalidInput, "invalid keyring reference %q: expected keyring://service/key", ref)
	}
	return service, key, nil
}

// Resolve returns the secret a keyring:// value refers to, or value itself
// when it is not a reference.
func Resolve(s Store, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}
	service, key, err := ParseRef(value)
	if err != nil {
		return "", err
	}
	secret, err := s.Get(service, key)
	if err != nil {
		return "", dmerr.Wrapf(err, dmerr.CodeSecretResolveFailure, "resolving %s", value)
	}
	return secret, nil
}
