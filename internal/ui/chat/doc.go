// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the terminal chat view of localchat.

The view is a Bubble Tea program built around a session.Session: a header
with the title and current model, the conversation, a multi-line input box
and a parameter sidebar holding the model selector, one control per
sampling parameter and the "Reset chat" button.

# Streaming

A submitted prompt runs session.Send in a command goroutine. Each fragment
is written to a StreamingBuffer, which decides when a repaint is due (at most
MaxFPS per second, or after a batch of fragments) and wakes the render loop
with a message. The view always renders from Conversation().Snapshot(), so
the partial assistant turn is visible while it streams. Until the first
fragment arrives a "Thinking..." spinner is shown.

# Errors

A connection failure leaves the conversation unchanged and puts the prompt
back into the input box. A failure or cancellation mid-reply keeps the
partial reply, marked as incomplete.

# Usage

	m := chat.New(chat.Options{
	    Session:  sess,
	    Params:   params,
	    Lister:   client,
	    Markdown: true,
	})
	p := chat.NewProgram(ctx, m)
	if _, err := p.Run(); err != nil {
	    return err
	}
*/
package chat
