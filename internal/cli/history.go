// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Browse archived conversations.
//
// Examples:
//   localchat history                     Most recent conversations
//   localchat history show 3f2a91c0       Print one conversation
//   localchat history show 3f2a --format markdown > chat.md
//   localchat history search "goroutine"  Find conversations by text
//   localchat history delete 3f2a --yes   Delete without prompting

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/TrieuLe0801/local-ollama-chatbot/internal/model"
	"github.com/TrieuLe0801/local-ollama-chatbot/internal/storage"
)

const historyTimeout = 10 * time.Second

// HistoryCmd groups the archive subcommands.
type HistoryCmd struct {
	List   HistoryListCmd   `cmd:"" default:"withargs" help:"List archived conversations"`
	Show   HistoryShowCmd   `cmd:"" help:"Print one conversation"`
	Search HistorySearchCmd `cmd:"" help:"Search conversations by text"`
	Delete HistoryDeleteCmd `cmd:"" help:"Delete a conversation"`
}

// HistoryListCmd lists the most recent conversations.
type HistoryListCmd struct {
	Limit int  `short:"n" default:"20" help:"Maximum number of conversations"`
	JSON  bool `help:"Output JSON"`
}

// HistoryShowCmd prints one conversation.
type HistoryShowCmd struct {
	ID     string `arg:"" help:"Conversation ID or unique prefix"`
	Format string `short:"f" enum:"text,markdown,json" default:"text" help:"Output format (text, markdown, json)"`
}

// HistorySearchCmd finds conversations containing a text.
type HistorySearchCmd struct {
	Query string `arg:"" help:"Text to look for in titles and turns"`
	Limit int    `short:"n" default:"20" help:"Maximum number of conversations"`
	JSON  bool   `help:"Output JSON"`
}

// HistoryDeleteCmd deletes one conversation.
type HistoryDeleteCmd struct {
	ID  string `arg:"" help:"Conversation ID or unique prefix"`
	Yes bool   `short:"y" help:"Delete without asking"`
}

// withArchive opens the archive for the duration of fn.
func withArchive(g *Globals, command string, fn func(ctx context.Context, a *storage.Archive) error) error {
	a, err := g.openArchive()
	if err != nil {
		return &CommandError{Command: "history", Action: command, Err: err}
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	return fn(ctx, a)
}

// Run lists conversations, newest first.
func (c *HistoryListCmd) Run(g *Globals, cc *CliConfig) error {
	return withArchive(g, "list", func(ctx context.Context, a *storage.Archive) error {
		return OutputJSON(cc.Stdout, c.JSON, "history list", func() (any, error) {
			metas, err := a.List(ctx, c.Limit)
			if err != nil {
				return nil, err
			}
			if !c.JSON {
				fmt.Fprint(cc.Stdout, storage.FormatList(metas))
				if len(metas) > 0 {
					fmt.Fprintln(cc.Stdout, RenderConditional(DimStyle, "\nShow one with: localchat history show ID"))
				} else {
					fmt.Fprintln(cc.Stdout)
				}
			}
			return metas, nil
		})
	})
}

// Run prints the conversation in the chosen format.
func (c *HistoryShowCmd) Run(g *Globals, cc *CliConfig) error {
	return withArchive(g, "show", func(ctx context.Context, a *storage.Archive) error {
		t, err := a.Load(ctx, c.ID)
		if err != nil {
			return err
		}

		switch c.Format {
		case "json":
			data, err := t.ExportJSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cc.Stdout, string(data))
			return err
		case "markdown":
			_, err := fmt.Fprint(cc.Stdout, t.ExportMarkdown())
			return err
		default:
			renderTranscript(cc.Stdout, t)
			return nil
		}
	})
}

// Run lists conversations matching the query.
func (c *HistorySearchCmd) Run(g *Globals, cc *CliConfig) error {
	query := strings.TrimSpace(c.Query)
	if query == "" {
		return &UsageError{Err: fmt.Errorf("search query is empty")}
	}
	return withArchive(g, "search", func(ctx context.Context, a *storage.Archive) error {
		return OutputJSON(cc.Stdout, c.JSON, "history search", func() (any, error) {
			metas, err := a.Search(ctx, query, c.Limit)
			if err != nil {
				return nil, err
			}
			if !c.JSON {
				if len(metas) == 0 {
					fmt.Fprintf(cc.Stdout, "No conversations match %q.\n", query)
				} else {
					fmt.Fprint(cc.Stdout, storage.FormatList(metas))
				}
			}
			return metas, nil
		})
	})
}

// Run deletes the conversation after confirmation.
func (c *HistoryDeleteCmd) Run(g *Globals, cc *CliConfig) error {
	return withArchive(g, "delete", func(ctx context.Context, a *storage.Archive) error {
		t, err := a.Load(ctx, c.ID)
		if err != nil {
			return err
		}

		ok, err := RequireConfirmation(cc.Stdin, cc.Stdout,
			fmt.Sprintf("delete %q (%d turns)", t.Title, len(t.Turns)),
			ConfirmationOptions{Yes: c.Yes, Interactive: isTerminalReader(cc.Stdin)})
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cc.Stdout, "Cancelled.")
			return nil
		}

		if err := a.Delete(ctx, t.ID); err != nil {
			return err
		}
		fmt.Fprintf(cc.Stdout, "%s %s\n", RenderConditional(SuccessStyle, "Deleted"), storage.ShortID(t.ID))
		return nil
	})
}

// renderTranscript prints a conversation for reading in the terminal.
func renderTranscript(w io.Writer, t *storage.Transcript) {
	width := GetTerminalWidth()

	fmt.Fprintln(w, RenderConditional(TitleStyle, t.Title))
	fmt.Fprintf(w, "%s %s\n", RenderLabel("ID", 10), t.ID)
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Model", 10), t.Model)
	fmt.Fprintf(w, "%s %s\n", RenderLabel("Updated", 10), t.UpdatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintln(w, RenderSeparator(width))

	for _, turn := range t.Turns {
		style := UserStyle
		name := turn.Role.DisplayName()
		if turn.Role == model.RoleAssistant {
			style = AssistantStyle
			if t.Model != "" {
				name = t.Model
			}
		}
		fmt.Fprintln(w, RenderConditional(style, name))
		fmt.Fprintln(w, strings.TrimRight(turn.Content, "\n"))
		fmt.Fprintln(w)
	}
}
