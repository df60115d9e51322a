package util

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 30000.0 / 1001.0},
		{"25", 25},
		{"0/0", 0},
		{"24/0", 0},
		{"", 0},
		{"abc", 0},
		{"1/2/3", 0},
		{"-30/1", 0},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, ParseFrameRate(tt.in), 1e-9, "input %q", tt.in)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:02.000", FormatDuration(2*time.Second))
	assert.Equal(t, "01:01:01.500", FormatDuration(time.Hour+time.Minute+1500*time.Millisecond))
	assert.Equal(t, "00:00:59.999", FormatDuration(59999*time.Millisecond+900*time.Microsecond))
	assert.Equal(t, "00:00:00.000", FormatDuration(-time.Second))
}

func TestSpool(t *testing.T) {
	dir := t.TempDir()

	path, n, cleanup, err := Spool(dir, ".mkv", strings.NewReader("frame data"))
	require.NoError(t, err)

	assert.Equal(t, int64(10), n)
	assert.Equal(t, ".mkv", filepath.Ext(path))
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, FileExists(path))

	cleanup()
	cleanup()
	assert.False(t, FileExists(path))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSpoolReadError(t *testing.T) {
	dir := t.TempDir()

	_, _, cleanup, err := Spool(dir, ".mp4", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSpoolWrite)

	cleanup()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpoolCreateError(t *testing.T) {
	_, _, cleanup, err := Spool(filepath.Join(t.TempDir(), "missing"), ".mp4", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrSpoolWrite)
	require.NotNil(t, cleanup)
	cleanup()
}

func TestExt(t *testing.T) {
	assert.Equal(t, ".mp4", Ext("Clip.MP4"))
	assert.Equal(t, ".gz", Ext("archive.tar.GZ"))
	assert.Equal(t, "", Ext("README"))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, FileExists(dir), "directories are not files")
	assert.False(t, FileExists(filepath.Join(dir, "nope")))
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
}
