// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"slices"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"

	"github.com/documesh-dev/documesh/internal/logging"
	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// indexSuffix names the entry holding a service's JSON key list, since the
// OS keyrings cannot enumerate keys.
const indexSuffix = "::index"

var _ Store = (*KeyringStore)(nil)

// KeyringStore implements Store on the OS keyring: Keychain on macOS,
// secret-service on Linux, Credential Manager on Windows.
type KeyringStore struct {
	log zerolog.Logger
}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{log: logging.For("secrets")}
}

func (s *KeyringStore) Set(service, key, value string) error {
	if err := checkName(service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return s.saveIndex(service, append(keys, key))
}

func (s *KeyringStore) Get(service, key string) (string, error) {
	if err := checkName(service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", dmerr.Errorf(dmerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "reading secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkName(service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return dmerr.Errorf(dmerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}

	keys, err := s.List(service)
	if err != nil {
		return err
	}
	return s.saveIndex(service, slices.DeleteFunc(keys, func(k string) bool { return k == key }))
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) saveIndex(service string, keys []string) error {
	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			s.log.Debug().Err(err).Str("service", service).Msg("failed to remove empty key index")
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return dmerr.Wrapf(err, dmerr.CodeSecretStoreFailure, "saving key index for %s", service)
	}
	return nil
}

func checkName(service, key string) error {
	if service == "" || key == "" {
		return dmerr.New(dmerr.CodeSecretInvalidInput, "secret service and key must not be empty")
	}
	return nil
}
