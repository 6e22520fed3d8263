//go:build integration

package dsync_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	dsync "github.com/dsync-im/dsync-go"
)

// helpers ---------------------------------------------------------------

func integrationClient(t *testing.T) *dsync.Client {
	t.Helper()
	base := os.Getenv("DSYNC_BASE_URL_TEST")
	token := os.Getenv("DSYNC_TOKEN_TEST")
	if base == "" || token == "" {
		t.Fatal("DSYNC_BASE_URL_TEST and DSYNC_TOKEN_TEST environment variables are required")
	}
	return dsync.NewClient(base, dsync.WithToken(token))
}

func integrationIdentity(t *testing.T) dsync.StaticIdentity {
	t.Helper()
	userID := os.Getenv("DSYNC_USER_ID_TEST")
	if userID == "" {
		t.Fatal("DSYNC_USER_ID_TEST environment variable is required")
	}
	return dsync.StaticIdentity{ID: userID, Name: "integration-test"}
}

func integrationConversation(t *testing.T) string {
	t.Helper()
	conv := os.Getenv("DSYNC_CONV_ID_TEST")
	if conv == "" {
		t.Fatal("DSYNC_CONV_ID_TEST environment variable is required")
	}
	return conv
}

func uniqueBody(prefix string) string {
	return fmt.Sprintf("%s %d", prefix, time.Now().UnixNano())
}

// =======================================================================
// Send / edit / like / delete round trip against a live server
// =======================================================================

func TestIntegration_MessageLifecycle(t *testing.T) {
	e := dsync.NewEngine(integrationClient(t), integrationIdentity(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := e.SwitchConversation(ctx, integrationConversation(t)); err != nil {
		t.Fatalf("SwitchConversation returned error: %v", err)
	}
	before := e.Store().Len()

	body := uniqueBody("integration send")
	localID, err := e.Send(ctx, dsync.Draft{Content: body})
	if err != nil {
		t.Fatalf("Send returned error (local id %s): %v", localID, err)
	}
	if e.Store().Len() != before+1 {
		t.Fatalf("expected %d messages after send, got %d", before+1, e.Store().Len())
	}

	// The committed record carries the canonical id.
	snap := e.Store().Snapshot()
	sent := snap[len(snap)-1]
	if sent.State != dsync.StateCommitted {
		t.Fatalf("expected committed state, got %s", sent.State)
	}
	if sent.ID == localID {
		t.Fatalf("expected canonical id after commit, still local: %s", sent.ID)
	}
	t.Logf("sent message id=%s", sent.ID)

	edited := body + " (edited)"
	if err := e.Edit(ctx, sent.ID, edited); err != nil {
		t.Fatalf("Edit returned error: %v", err)
	}
	got, ok := e.Store().Get(sent.ID)
	if !ok || got.Body != edited || !got.Edited {
		t.Fatalf("edit not reflected locally: %+v", got)
	}

	if err := e.ToggleLike(ctx, sent.ID); err != nil {
		t.Fatalf("ToggleLike returned error: %v", err)
	}
	got, _ = e.Store().Get(sent.ID)
	if len(got.LikedBy) == 0 {
		t.Fatal("expected the acting user in the like set")
	}

	if err := e.Delete(ctx, sent.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, ok := e.Store().Get(sent.ID); ok {
		t.Fatal("message still present after delete")
	}
}

func TestIntegration_RefreshIsStable(t *testing.T) {
	e := dsync.NewEngine(integrationClient(t), integrationIdentity(t))
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := e.SwitchConversation(ctx, integrationConversation(t)); err != nil {
		t.Fatalf("SwitchConversation returned error: %v", err)
	}
	first := e.Store().Snapshot()

	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	second := e.Store().Snapshot()

	if len(first) != len(second) {
		t.Logf("history changed between fetches: %d -> %d", len(first), len(second))
	}
	for i := 1; i < len(second); i++ {
		if second[i].CreatedAt.Before(second[i-1].CreatedAt) {
			t.Fatalf("history out of order at index %d", i)
		}
	}
}
