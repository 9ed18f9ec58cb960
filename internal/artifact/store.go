// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package artifact persists captured frames and their relay records under the
// save directory and builds the public references handed to the relay.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/camshot/internal/log"
	platformfs "github.com/ManuGH/camshot/internal/platform/fs"
)

const (
	ImageExt  = ".jpg"
	RecordExt = ".json"

	filePerm = 0o644
	dirPerm  = 0o750

	maxNameAttempts = 1000
)

// ErrInvalidName is returned for names that are not plain artifact file names.
var ErrInvalidName = errors.New("invalid artifact name")

var stampReplacer = strings.NewReplacer(":", "-", ".", "-")

// Timestamp renders t as an ISO-8601 UTC stamp that is safe in file names,
// e.g. 2025-03-01T10-15-30-123Z.
func Timestamp(t time.Time) string {
	return stampReplacer.Replace(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// Config configures a Store.
type Config struct {
	Dir           string
	PublicBaseURL string
	PublicPrefix  string
	Now           func() time.Time
}

// Artifact is a persisted frame.
type Artifact struct {
	Camera    string
	Name      string
	Path      string
	URL       string
	CreatedAt time.Time
}

// RecordName returns the name of the sibling relay record.
func (a Artifact) RecordName() string {
	return strings.TrimSuffix(a.Name, ImageExt) + RecordExt
}

// Store writes artifacts atomically. Name reservation is serialized so concurrent
// captures of the same camera in the same millisecond get distinct -N suffixes.
type Store struct {
	dir     string
	baseURL string
	prefix  string
	now     func() time.Time

	mu sync.Mutex
	// last stamp handed out per sanitized camera name
	last map[string]time.Time
}

// New creates the save directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("artifact: save dir is empty")
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve save dir: %w", err)
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("artifact: create save dir: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	prefix := "/" + strings.Trim(cfg.PublicPrefix, "/")
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		prefix:  prefix,
		now:     now,
		last:    make(map[string]time.Time),
	}, nil
}

// Dir returns the absolute save directory.
func (s *Store) Dir() string { return s.dir }

// URLFor returns the public reference for name. Without a public base URL the
// reference is the server-relative path.
func (s *Store) URLFor(name string) string {
	p := s.prefix
	if p != "/" {
		p += "/"
	}
	return s.baseURL + p + url.PathEscape(name)
}

// Save writes data as <camera>-<timestamp>.jpg. Names for one camera carry
// strictly increasing timestamps, so they sort in creation order.
func (s *Store) Save(ctx context.Context, camera string, data []byte) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, errors.New("artifact: empty image")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name, created, err := s.reserveLocked(safeName(camera), s.now())
	if err != nil {
		return Artifact{}, err
	}
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(ctx, path, data); err != nil {
		return Artifact{}, err
	}

	logger := log.WithComponentFromContext(ctx, "artifact")
	logger.Debug().
		Str("event", "artifact.saved").
		Str(log.FieldFile, name).
		Int("bytes", len(data)).
		Msg("frame saved")

	return Artifact{
		Camera:    camera,
		Name:      name,
		Path:      path,
		URL:       s.URLFor(name),
		CreatedAt: created,
	}, nil
}

// reserveLocked returns the first free name at or after t. A stamp already
// used, in this process or on disk, moves the name one millisecond later.
func (s *Store) reserveLocked(camera string, t time.Time) (string, time.Time, error) {
	if last, ok := s.last[camera]; ok && !t.Truncate(time.Millisecond).After(last) {
		t = last.Add(time.Millisecond)
	}
	for n := 0; n < maxNameAttempts; n++ {
		name := camera + "-" + Timestamp(t) + ImageExt
		_, err := os.Lstat(filepath.Join(s.dir, name))
		if os.IsNotExist(err) {
			s.last[camera] = t.Truncate(time.Millisecond)
			return name, t, nil
		}
		if err != nil {
			return "", time.Time{}, fmt.Errorf("artifact: stat %s: %w", name, err)
		}
		t = t.Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return "", time.Time{}, fmt.Errorf("artifact: no free name for %s", camera)
}

// SaveRecord writes the relay record next to a's image. An empty payload is
// stored as {}.
func (s *Store) SaveRecord(ctx context.Context, a Artifact, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return writeAtomic(ctx, filepath.Join(s.dir, a.RecordName()), payload)
}

// Resolve returns the confined path of an existing artifact file.
func (s *Store) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if ext := filepath.Ext(name); ext != ImageExt && ext != RecordExt {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path, err := platformfs.ConfineRelPath(s.dir, name)
	if err != nil {
		return "", err
	}
	if err := platformfs.IsRegularFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// Sweep removes images and records older than maxAge and returns how many files
// were removed. Files that cannot be removed are logged and skipped.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("artifact: read save dir: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "artifact")
	cutoff := s.now().Add(-maxAge)

	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if ext := filepath.Ext(name); ext != ImageExt && ext != RecordExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			logger.Debug().Err(err).Str("event", "artifact.sweep_stat_ignored").Str(log.FieldFile, name).Msg("skipping file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			logger.Warn().Err(err).Str("event", "artifact.sweep_remove_ignored").Str(log.FieldFile, name).Msg("could not remove expired artifact")
			continue
		}
		removed++
	}
	return removed, nil
}

func writeAtomic(ctx context.Context, path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return fmt.Errorf("artifact: create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.FromContext(ctx).Debug().Err(err).Str("event", "artifact.cleanup_ignored").Msg("cleanup pending file")
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("artifact: write %s: %w", filepath.Base(path), err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("artifact: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// safeName keeps camera keys usable as file name prefixes.
func safeName(camera string) string {
	if camera == "" {
		return "camera"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, camera)
}
