package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter_WritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citeloom.log")

	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citeloom.log")

	// 1 MB limit; write just over it in two chunks
	w, err := NewRotatingWriter(path, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	big := strings.Repeat("x", 1024*1024)
	_, err = w.Write([]byte(big))
	require.NoError(t, err)
	_, err = w.Write([]byte("after rotation\n"))
	require.NoError(t, err)

	// Original content moved to .1, fresh file holds the new write
	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Len(t, rotated, 1024*1024)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "after rotation\n", string(current))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelFromString("debug").String(), "DEBUG")
	assert.Equal(t, LevelFromString("WARN").String(), "WARN")
	assert.Equal(t, LevelFromString("bogus").String(), "INFO")
}
