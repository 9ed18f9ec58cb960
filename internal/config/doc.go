// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates and hot-reloads the camshot configuration.
//
// Precedence is ENV > YAML file > defaults. The YAML file is decoded strictly: unknown
// keys are rejected so that typos fail at startup instead of silently using a default.
package config
