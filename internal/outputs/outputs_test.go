package outputs

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 123456789, time.UTC)
	assert.Equal(t, "20240309070502123456.png", FileName(ts))

	ts = time.Date(2024, 3, 9, 7, 5, 2, 1000, time.UTC)
	assert.Equal(t, "20240309070502000001.png", FileName(ts))
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "user_images")
	s, err := New(Config{Dir: dir})
	require.NoError(t, err)

	path, err := s.Save([]byte("data"))
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^\d{20}\.png$`), filepath.Base(path))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not linger")
}

func writeAged(t *testing.T, dir, name string, age time.Duration, now time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	mt := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func TestPrune_Retention(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s, err := New(Config{Dir: dir, Retention: time.Hour})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	writeAged(t, dir, "old.png", 2*time.Hour, now)
	writeAged(t, dir, "new.png", time.Minute, now)
	writeAged(t, dir, "notes.txt", 5*time.Hour, now)

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, filepath.Join(dir, "old.png"))
	assert.FileExists(t, filepath.Join(dir, "new.png"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestPrune_MaxFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s, err := New(Config{Dir: dir, MaxFiles: 2})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	writeAged(t, dir, "a.png", 3*time.Minute, now)
	writeAged(t, dir, "b.png", 2*time.Minute, now)
	writeAged(t, dir, "c.png", time.Minute, now)

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "a.png"))
	assert.FileExists(t, filepath.Join(dir, "b.png"))
	assert.FileExists(t, filepath.Join(dir, "c.png"))
}

func TestPrune_DisabledKeepsEverything(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s, err := New(Config{Dir: dir})
	require.NoError(t, err)

	writeAged(t, dir, "ancient.png", 24*365*time.Hour, now)

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, filepath.Join(dir, "ancient.png"))
}
