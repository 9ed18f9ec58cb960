// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "sort"

// CameraDiff lists camera names that were added, removed or changed between two configs.
type CameraDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

// Empty reports whether nothing changed.
func (d CameraDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffCameras compares two camera maps. Result slices are sorted.
func DiffCameras(old, updated map[string]CameraConfig) CameraDiff {
	var d CameraDiff
	for name, cam := range updated {
		prev, ok := old[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case prev != cam:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range old {
		if _, ok := updated[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
