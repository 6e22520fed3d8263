package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historySearch string
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Show message history for a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()
		eng, err := newEngine(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := eng.SwitchConversation(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		msgs := eng.Store().Snapshot()
		if historySearch != "" {
			msgs = eng.Store().Search(historySearch)
		}
		if historyLimit > 0 && len(msgs) > historyLimit {
			msgs = msgs[len(msgs)-historyLimit:]
		}

		if historyJSON {
			out, err := json.MarshalIndent(msgs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		for _, m := range msgs {
			printMessage(m.CreatedAt.Local().Format("2006-01-02 15:04"), m.Author.Name, m.Body, m.Edited, len(m.LikedBy))
		}
		return nil
	},
}

func printMessage(ts, author, body string, edited bool, likes int) {
	suffix := ""
	if edited {
		suffix += " (edited)"
	}
	if likes > 0 {
		suffix += fmt.Sprintf(" [♥ %d]", likes)
	}
	if author == "" {
		author = "unknown"
	}
	fmt.Printf("[%s] %-16s %s%s\n", ts, author+":", strings.TrimSpace(body), suffix)
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of messages to show")
	historyCmd.Flags().StringVar(&historySearch, "search", "", "Filter messages by substring")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(historyCmd)
}
