// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for localchat.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - SamplingConfig: Model and sampling parameter defaults as written in the file
//   - Watcher: Reloads the file when it changes on disk
//
// # Configuration Precedence
//
// Configuration is loaded from (later wins):
//   - Built-in defaults
//   - ~/.localchat/config.toml
//   - .env and environment variables (OLLAMA_HOST, LOCALCHAT_*)
//   - Command line flags
//
// # Usage
//
// Load configuration:
//
//	if err := config.LoadDotEnv(); err != nil {
//	    return err
//	}
//	cfg, err := config.Load()
//	if err != nil {
//	    return err
//	}
//
// Build the sampling defaults for a session:
//
//	params, err := cfg.SamplingDefaults()
package config
