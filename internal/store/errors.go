// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package store

import (
	"errors"

	dmerr "github.com/documesh-dev/documesh/pkg/errors"
)

// Sentinel errors for store operations. Backends wrap them with a
// pkg/errors code so both errors.Is and the code classifiers work.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input parameters are invalid or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDatabase is the catch-all for unexpected backend failures.
	ErrDatabase = errors.New("database error")
)

// NotFound wraps ErrNotFound with code.
func NotFound(code dmerr.Code, msg string, fields ...dmerr.Attr) error {
	return dmerr.Wrap(ErrNotFound, code, msg, fields...)
}

// DatabaseFailure wraps a driver error. The driver text stays in the chain
// for logs.
func DatabaseFailure(err error, msg string, fields ...dmerr.Attr) error {
	if err == nil {
		return nil
	}
	return dmerr.Wrap(errors.Join(ErrDatabase, err), dmerr.CodeStoreDatabaseFailure, msg, fields...)
}

// InvalidInput wraps ErrInvalidInput.
func InvalidInput(msg string, fields ...dmerr.Attr) error {
	return dmerr.Wrap(ErrInvalidInput, dmerr.CodeStoreInvalidInput, msg, fields...)
}
