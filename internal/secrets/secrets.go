// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

// Package secrets keeps provider API keys and database credentials out of
// config files. A config value of the form keyring://service/key is
// replaced by the secret stored under that service and key.
package secrets

// ServiceName is the keyring service the CLI stores secrets under.
const ServiceName = "documesh"

// Store provides secret storage by service and key.
type Store interface {
	Set(service, key, value string) error
	// Get returns a CodeSecretNotFound error when nothing is stored.
	Get(service, key string) (string, error)
	Delete(service, key string) error
	// List returns the key names stored under service.
	List(service string) ([]string, error)
}
