// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Documesh Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documesh-dev/documesh/internal/store/sqlite"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

func newStore(t *testing.T) *sqlite.ConversationStore {
	t.Helper()
	s, err := sqlite.NewConversationStore(testDBPath(t, "conversations"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
