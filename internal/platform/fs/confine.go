// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fs holds filesystem helpers shared by the artifact store and the file server.
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesRoot is returned when a path resolves outside its root.
	ErrEscapesRoot = errors.New("path escapes root")
	// ErrNotRegular is returned for directories, devices and sockets.
	ErrNotRegular = errors.New("not a regular file")
)

// ConfineRelPath joins root and rel and returns the resolved path, guaranteeing it
// lies under the resolved root. Symlinks are followed before the check. rel must be
// relative and may not contain backslashes.
func ConfineRelPath(root, rel string) (string, error) {
	if strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrEscapesRoot, rel)
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: %q is absolute", ErrEscapesRoot, rel)
	}
	if escapes(clean) {
		return "", fmt.Errorf("%w: %q", ErrEscapesRoot, rel)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}
	return resolveWithin(realRoot, filepath.Join(realRoot, clean))
}

func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		return abs, nil
	}
	return real, nil
}

// resolveWithin resolves full (or its parent, when full does not exist yet) and
// checks the result against realRoot.
func resolveWithin(realRoot, full string) (string, error) {
	var real string
	if _, err := os.Lstat(full); err == nil {
		real, err = filepath.EvalSymlinks(full)
		if err != nil {
			return "", fmt.Errorf("resolve %q: %w", full, err)
		}
	} else {
		dir := filepath.Dir(full)
		rp, err := filepath.EvalSymlinks(dir)
		switch {
		case err == nil:
			real = filepath.Join(rp, filepath.Base(full))
		case os.IsNotExist(err):
			real = full
		default:
			return "", fmt.Errorf("resolve parent of %q: %w", full, err)
		}
	}

	rel, err := filepath.Rel(realRoot, real)
	if err != nil || escapes(rel) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, real)
	}
	return real, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsRegularFile returns nil when path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	return nil
}
