// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string and file helpers shared by localchat.
//
// String helpers measure display width with go-runewidth so sidebar labels,
// history tables and status bars line up with wide characters.
//
// # Usage
//
//	// Truncate long strings safely for display
//	label := util.TruncateWidth(preview, 30)
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0644)
package util
