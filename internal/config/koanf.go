// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/rollcall/config.yaml",
	"/etc/rollcall/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces Rollcall environment variables.
const envPrefix = "ROLLCALL_"

// Load builds the configuration from layered sources:
//  1. Struct defaults
//  2. Optional YAML config file
//  3. ROLLCALL_* environment variables (highest priority)
//
// ROLLCALL_DATABASE_DSN maps to database.dsn, ROLLCALL_NATS_URL to
// nats.url, and so on: the prefix is stripped and single underscores
// below the section level stay part of the key.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps ROLLCALL_* environment variables to koanf
// config paths. The first underscore after the prefix separates the
// section from the key.
//
//	ROLLCALL_DATABASE_DSN        -> database.dsn
//	ROLLCALL_NATS_STREAM_NAME    -> nats.stream_name
//	ROLLCALL_GATEWAY_API_SECRET  -> gateway.api_secret
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	sep := strings.Index(key, "_")
	if sep < 0 {
		// No section, skip to keep stray variables out of the config.
		return ""
	}

	section := key[:sep]
	rest := key[sep+1:]
	switch section {
	case "app", "database", "nats", "producer", "consumer", "gateway", "server", "logging":
		return section + "." + rest
	}
	return ""
}
