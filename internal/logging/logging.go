// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the structured logger shared by the engine
// components.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a logger. With jsonFormat the production JSON encoder is
// used, otherwise the development console encoder. level is a zap level
// name ("debug", "info", "warn", ...).
func New(level string, jsonFormat bool) (*zap.Logger, error) {
	var cfg zap.Config
	if jsonFormat {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg.Level = lvl
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
