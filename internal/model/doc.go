// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation log and the turns it holds.
//
// A Conversation is the per-session, append-only record of the dialogue sent
// to the model. Turns are appended whole, or built incrementally through a
// TurnHandle while an assistant reply is streaming.
//
// # Key Types
//
//   - Conversation: ordered, append-only log of turns for one session
//   - Turn: one message with a role and its content
//   - TurnHandle: write handle for a turn whose content is still streaming
//   - ModelInfo: entry of the selectable model catalog
//
// # Usage
//
//	conv := model.NewConversation()
//	conv.Append(model.NewTurn(model.RoleUser, "hi"))
//
//	h, err := conv.BeginStreamingTurn(model.RoleAssistant)
//	if err != nil {
//	    return err
//	}
//	h.Extend("Hel")
//	h.Extend("lo")
//	h.Finalize()
//
//	for _, t := range conv.Snapshot() {
//	    fmt.Println(t.Role, t.Content)
//	}
//
// Only one streaming turn may be open at a time. Reset is the single removal
// operation; it also detaches any open handle.
package model
