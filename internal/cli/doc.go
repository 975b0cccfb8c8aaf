// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the localchat command line.
//
// Commands are kong structs with a Run method; the shared flags live in
// Globals and are bound to every Run call together with the CliConfig that
// carries the process streams.
//
// # Commands
//
//	localchat [tui]            Full screen chat (default)
//	localchat chat             Line based chat REPL
//	localchat ask PROMPT       One prompt, one reply
//	localchat models           Installed models
//	localchat params           Show or change sampling defaults
//	localchat history ...      Browse archived conversations
//	localchat doctor           Check the local setup
//
// # Configuration
//
// Settings come from ~/.localchat/config.toml, then .env and the
// environment (OLLAMA_HOST, LOCALCHAT_MODEL, LOCALCHAT_LOG_LEVEL,
// LOCALCHAT_HISTORY), then the global flags.
//
// # Errors
//
// Run returns errors instead of exiting. Main prints them with a hint and
// maps them to exit codes: 2 usage, 3 config, 5 server unreachable,
// 7 transcript not found, 1 anything else.
package cli
