// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformfs "github.com/ManuGH/camshot/internal/platform/fs"
)

var fixed = time.Date(2025, 3, 1, 10, 15, 30, 123_000_000, time.UTC)

func newStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return fixed }
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "2025-03-01T10-15-30-123Z", Timestamp(fixed))
	assert.Equal(t, "2025-03-01T10-15-30-123Z", Timestamp(fixed.In(time.FixedZone("CET", 3600))))
}

func TestSaveWritesImageAndBuildsURL(t *testing.T) {
	s := newStore(t, Config{PublicBaseURL: "http://camshot.local:8099/", PublicPrefix: "shots"})

	a, err := s.Save(context.Background(), "door", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "door-2025-03-01T10-15-30-123Z.jpg", a.Name)
	assert.Equal(t, "http://camshot.local:8099/shots/door-2025-03-01T10-15-30-123Z.jpg", a.URL)
	assert.Equal(t, filepath.Join(s.Dir(), a.Name), a.Path)
	assert.Equal(t, fixed, a.CreatedAt)

	got, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), got)
}

func TestURLWithoutBaseIsRelative(t *testing.T) {
	s := newStore(t, Config{PublicPrefix: "/shots/"})
	assert.Equal(t, "/shots/a%20b.jpg", s.URLFor("a b.jpg"))
}

func TestSaveCollisionsAdvanceTimestamp(t *testing.T) {
	s := newStore(t, Config{})

	var saved []string
	for i := 0; i < 3; i++ {
		a, err := s.Save(context.Background(), "door", []byte{byte(i + 1)})
		require.NoError(t, err)
		saved = append(saved, a.Name)
		assert.Equal(t, fixed.Add(time.Duration(i)*time.Millisecond), a.CreatedAt)
	}
	assert.Equal(t, []string{
		"door-2025-03-01T10-15-30-123Z.jpg",
		"door-2025-03-01T10-15-30-124Z.jpg",
		"door-2025-03-01T10-15-30-125Z.jpg",
	}, saved)

	sorted := append([]string(nil), saved...)
	sort.Strings(sorted)
	assert.Equal(t, saved, sorted, "lexical order must match creation order")

	other, err := s.Save(context.Background(), "yard", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "yard-2025-03-01T10-15-30-123Z.jpg", other.Name, "cameras do not share a sequence")
}

func TestSaveSkipsNamesLeftOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "door-2025-03-01T10-15-30-123Z.jpg"), []byte("old"), 0o600))

	s := newStore(t, Config{Dir: dir})
	a, err := s.Save(context.Background(), "door", []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, "door-2025-03-01T10-15-30-124Z.jpg", a.Name)
}

func TestSaveConcurrentNamesAreUnique(t *testing.T) {
	s := newStore(t, Config{})

	var wg sync.WaitGroup
	names := make([]string, 5)
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := s.Save(context.Background(), "door", []byte{byte(i + 1)})
			assert.NoError(t, err)
			names[i] = a.Name
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
	}
}

func TestSaveSanitizesCamera(t *testing.T) {
	s := newStore(t, Config{})
	a, err := s.Save(context.Background(), "../yard cam", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "___yard_cam-2025-03-01T10-15-30-123Z.jpg", a.Name)
	assert.Equal(t, s.Dir(), filepath.Dir(a.Path))
}

func TestSaveRejectsEmptyImage(t *testing.T) {
	s := newStore(t, Config{})
	_, err := s.Save(context.Background(), "door", nil)
	require.Error(t, err)
}

func TestSaveRecord(t *testing.T) {
	s := newStore(t, Config{})
	a, err := s.Save(context.Background(), "door", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.SaveRecord(context.Background(), a, nil))
	got, err := os.ReadFile(filepath.Join(s.Dir(), a.RecordName()))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	require.NoError(t, s.SaveRecord(context.Background(), a, []byte(`{"matches":[]}`)))
	got, err = os.ReadFile(filepath.Join(s.Dir(), "door-2025-03-01T10-15-30-123Z.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"matches":[]}`, string(got))
}

func TestResolve(t *testing.T) {
	s := newStore(t, Config{})
	a, err := s.Save(context.Background(), "door", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0o600))
	outside := filepath.Join(t.TempDir(), "secret.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(s.Dir(), "evil.jpg")))

	path, err := s.Resolve(a.Name)
	require.NoError(t, err)
	assert.Equal(t, a.Name, filepath.Base(path))

	for _, name := range []string{"", "../door.jpg", "sub/door.jpg", ".hidden.jpg", "notes.txt"} {
		_, err := s.Resolve(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	_, err = s.Resolve("evil.jpg")
	assert.ErrorIs(t, err, platformfs.ErrEscapesRoot)

	_, err = s.Resolve("missing.jpg")
	assert.True(t, os.IsNotExist(err))
}

func TestSweepRemovesExpiredArtifacts(t *testing.T) {
	dir := t.TempDir()
	now := fixed
	s := newStore(t, Config{Dir: dir, Now: func() time.Time { return now }})

	old := []string{"door-old.jpg", "door-old.json"}
	fresh := []string{"door-new.jpg", "door-new.json"}
	keep := []string{"README.txt", ".door-pending.jpg"}
	for _, n := range append(append(old, fresh...), keep...) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o600))
	}
	for _, n := range append(old, keep...) {
		require.NoError(t, os.Chtimes(filepath.Join(dir, n), now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	}
	for _, n := range fresh {
		require.NoError(t, os.Chtimes(filepath.Join(dir, n), now.Add(-time.Hour), now.Add(-time.Hour)))
	}

	removed, err := s.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, n := range old {
		assert.NoFileExists(t, filepath.Join(dir, n))
	}
	for _, n := range append(fresh, keep...) {
		assert.FileExists(t, filepath.Join(dir, n))
	}
}
