package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	dsync "github.com/dsync-im/dsync-go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Follow a conversation in real time",
	Long:  "Load a conversation and stream new messages, edits, deletes, and status changes until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireConfig()
		eng, err := newEngine(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := eng.SwitchConversation(loadCtx, args[0]); err != nil {
			cancel()
			return fmt.Errorf("failed to load conversation: %w", err)
		}
		cancel()

		for _, m := range eng.Store().Snapshot() {
			printMessage(m.CreatedAt.Local().Format("15:04:05"), m.Author.Name, m.Body, m.Edited, len(m.LikedBy))
		}

		rt := dsync.NewRealtime(cfg.Default.BaseURL, &dsync.RealtimeConfig{
			Token:  cfg.Auth.Token,
			Logger: cliLogger(),
		})
		rt.BindEngine(eng)
		rt.OnConnected(func() {
			fmt.Println("-- connected --")
		})
		rt.OnDisconnected(func(reason string) {
			fmt.Printf("-- disconnected: %s --\n", reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d, in %s) --\n", attempt, delay)
		})

		seen := eng.Store().Len()
		unsubscribe := eng.Store().Subscribe(func(msgs []dsync.Message) {
			// Print only the tail added since the last notification; edits
			// and deletes are reflected in later snapshots, not re-printed.
			if len(msgs) > seen {
				for _, m := range msgs[seen:] {
					printMessage(m.CreatedAt.Local().Format("15:04:05"), m.Author.Name, m.Body, m.Edited, len(m.LikedBy))
				}
			}
			seen = len(msgs)
		})
		defer unsubscribe()

		if err := rt.Connect(ctx); err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		joinCtx, cancelJoin := context.WithTimeout(ctx, 10*time.Second)
		err = rt.JoinConversation(joinCtx, args[0])
		cancelJoin()
		if err != nil {
			return fmt.Errorf("failed to join conversation: %w", err)
		}

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
		<-ctx.Done()
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
