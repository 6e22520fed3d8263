package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	dsync "github.com/dsync-im/dsync-go"
	"github.com/spf13/cobra"
)

var (
	sendReplyTo string
	sendJSON    bool
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <content>",
	Short: "Send a message to a conversation",
	Long:  "Send a text message. The message is created optimistically and resolved against the server before the command returns.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()
		eng, err := newEngine(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := eng.SwitchConversation(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to open conversation: %w", err)
		}

		draft := dsync.Draft{Content: args[1]}
		if sendReplyTo != "" {
			draft.Reply = &dsync.ReplyRef{ID: sendReplyTo}
		}

		localID, err := eng.Send(ctx, draft)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		var msg dsync.Message
		if m, ok := eng.Store().Get(localID); ok {
			msg = *m
		} else {
			// The id was swapped on commit; the record is the newest one.
			snapshot := eng.Store().Snapshot()
			msg = snapshot[len(snapshot)-1]
		}

		if sendJSON {
			out, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("Sent message %s\n", msg.ID)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "Message ID to reply to")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(sendCmd)
}
