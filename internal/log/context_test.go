// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{"background", context.Background(), "req-123", "req-123"},
		{"nil context", nil, "req-456", "req-456"},
		{"empty id", context.Background(), "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			if got := RequestIDFromContext(ctx); got != tt.want {
				t.Errorf("RequestIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextWithJobAndCamera(t *testing.T) {
	ctx := ContextWithJobID(context.Background(), "job-1")
	ctx = ContextWithCamera(ctx, "front")

	if got := JobIDFromContext(ctx); got != "job-1" {
		t.Errorf("JobIDFromContext() = %q, want job-1", got)
	}
	if got := CameraFromContext(ctx); got != "front" {
		t.Errorf("CameraFromContext() = %q, want front", got)
	}
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("RequestIDFromContext() = %q, want empty", got)
	}
}

func TestFromContextNil(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	if l := FromContext(nil); l == nil {
		t.Fatal("FromContext(nil) returned nil logger")
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-9")
	ctx = ContextWithJobID(ctx, "job-9")
	ctx = ContextWithCamera(ctx, "garage")

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log entry: %v", err)
	}
	for key, want := range map[string]string{
		FieldRequestID: "req-9",
		FieldJobID:     "job-9",
		FieldCamera:    "garage",
	} {
		if entry[key] != want {
			t.Errorf("field %s = %v, want %s", key, entry[key], want)
		}
	}
}
