// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_CreatesAndOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "killswitch.toml")

	require.NoError(t, AtomicWriteFile(path, []byte("endpoint = false\n"), 0644))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "endpoint = false\n", string(got))

	require.NoError(t, AtomicWriteFile(path, []byte("endpoint = true\n"), 0644))
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "endpoint = true\n", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAtomicWriteFileWithDir_Permissions(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("permission bits are not meaningful on Windows")
	}
	dir := filepath.Join(t.TempDir(), "private")
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, AtomicWriteFileWithDir(path, []byte("x"), 0600, 0700))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

// =============================================================================
// TEXT TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in        string
		max       int
		want      string
		truncated bool
	}{
		{"hello", 10, "hello", false},
		{"hello", 5, "hello", false},
		{"hello", 3, "hel", true},
		{"héllo wörld", 4, "héll", true},
		{"日本語テキスト", 3, "日本語", true},
		{"abc", 0, "", true},
		{"", 0, "", false},
	}
	for _, tt := range tests {
		got, truncated := TruncateRunes(tt.in, tt.max)
		assert.Equal(t, tt.want, got, "TruncateRunes(%q, %d)", tt.in, tt.max)
		assert.Equal(t, tt.truncated, truncated, "TruncateRunes(%q, %d)", tt.in, tt.max)
	}
}

func TestTruncateAtBoundary(t *testing.T) {
	in := strings.Repeat("word ", 20)
	out, truncated := TruncateAtBoundary(in, 23)
	assert.True(t, truncated)
	assert.Equal(t, "word word word word", out)

	out, truncated = TruncateAtBoundary("short", 10)
	assert.False(t, truncated)
	assert.Equal(t, "short", out)

	// No boundary near the end: hard cut.
	out, _ = TruncateAtBoundary("a "+strings.Repeat("x", 30), 20)
	assert.Equal(t, 20, RuneLen(out))
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 5, RuneLen("hello"))
	assert.Equal(t, 3, RuneLen("日本語"))
	assert.Equal(t, 0, RuneLen(""))
}
