// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	exists, err := FileExists(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.False(t, MustFileExists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	exists, err = FileExists(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.True(t, MustFileExists(path))
}

func TestReplaceTildeInDir(t *testing.T) {
	// Paths without a leading tilde pass through untouched.
	for _, dir := range []string{"", "/abs/path", "relative/path", "dir/~inside"} {
		got, err := ReplaceTildeInDir(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	}

	got, err := ReplaceTildeInDir("~/checkpoints/run1")
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(got, "~"))
	assert.True(t, strings.HasSuffix(got, "/checkpoints/run1"))

	_, err = ReplaceTildeInDir("~no-such-user-xyzzy/checkpoints")
	assert.Error(t, err)
	assert.Panics(t, func() { MustReplaceTildeInDir("~no-such-user-xyzzy/checkpoints") })
}
