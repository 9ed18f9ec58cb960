// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the host environment before the server starts.
// It creates the save directory when missing.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str("event", "startup.checks_begin").Msg("running pre-flight startup checks")

	if err := os.MkdirAll(cfg.SaveDir, 0o750); err != nil {
		return fmt.Errorf("save directory: %w", err)
	}
	if err := checkWritableDir(cfg.SaveDir); err != nil {
		return fmt.Errorf("save directory check failed: %w", err)
	}
	logger.Info().Str("path", cfg.SaveDir).Msg("save directory is writable")
	warnIfTemp(logger, "save_dir", cfg.SaveDir)

	if cfg.History.Path != "" {
		dir := filepath.Dir(cfg.History.Path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("history directory: %w", err)
		}
		if err := checkWritableDir(dir); err != nil {
			return fmt.Errorf("history directory check failed: %w", err)
		}
		warnIfTemp(logger, "history.path", cfg.History.Path)
	}

	if err := checkBrowser(logger, cfg.Browser.ExecPath); err != nil {
		return err
	}

	logger.Info().Str("event", "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkBrowser(logger zerolog.Logger, execPath string) error {
	if strings.TrimSpace(execPath) == "" {
		logger.Info().Msg("browser exec path not set; using the engine's default lookup")
		return nil
	}
	resolved, err := exec.LookPath(execPath)
	if err != nil {
		return fmt.Errorf("browser binary not found (%s): %w", execPath, err)
	}
	logger.Info().Str("browser", resolved).Msg("browser binary available")
	return nil
}

func warnIfTemp(logger zerolog.Logger, field, path string) {
	tmp := filepath.Clean(os.TempDir())
	p, err := filepath.Abs(path)
	if err != nil {
		return
	}
	if p == tmp || strings.HasPrefix(p, tmp+string(filepath.Separator)) {
		logger.Warn().
			Str(field, path).
			Msg("path is under the temp directory; data may be lost on reboot")
	}
}
