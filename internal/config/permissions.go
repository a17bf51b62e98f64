// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package config

import (
	"io/fs"
	"os"
	"runtime"

	"github.com/rs/zerolog"
)

// InsecurePermissions reports whether the file at path is group- or
// world-readable. Windows ACLs are not inspected.
func InsecurePermissions(path string) (bool, fs.FileMode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0, err
	}
	if runtime.GOOS == "windows" {
		return false, info.Mode(), nil
	}
	const groupOrOtherRead fs.FileMode = 0o044
	return info.Mode().Perm()&groupOrOtherRead != 0, info.Mode(), nil
}

// WarnInsecurePermissions logs a warning when the config file holding API
// keys and the database DSN is readable by other users. It never fails.
func WarnInsecurePermissions(log zerolog.Logger, path string) {
	if path == "" {
		return
	}

	insecure, mode, err := InsecurePermissions(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("could not stat config file for permission check")
		return
	}
	if insecure {
		log.Warn().
			Str("path", path).
			Str("mode", mode.String()).
			Str("recommended", "0600").
			Msg("config file has insecure permissions, secrets may be exposed to other users")
	}
}
