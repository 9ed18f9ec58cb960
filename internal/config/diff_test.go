// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDiffCameras(t *testing.T) {
	old := map[string]CameraConfig{
		"a": {URL: "http://a"},
		"b": {URL: "http://b"},
		"c": {URL: "http://c"},
	}
	updated := map[string]CameraConfig{
		"a": {URL: "http://a"},
		"b": {URL: "http://b2"},
		"d": {URL: "http://d"},
	}

	got := DiffCameras(old, updated)
	want := CameraDiff{Added: []string{"d"}, Removed: []string{"c"}, Changed: []string{"b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DiffCameras mismatch (-want +got):\n%s", diff)
	}
	if got.Empty() {
		t.Error("diff should not be empty")
	}
	if !DiffCameras(old, old).Empty() {
		t.Error("identical maps should produce an empty diff")
	}
}
