package dsync

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Optimistic Record Factory
// ============================================================================

// Draft is the user's send intent before any network round-trip.
type Draft struct {
	Content    string      `json:"content"`
	Kind       Kind        `json:"kind,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Reply      *ReplyRef   `json:"replyTo,omitempty"`
}

var localSeq atomic.Uint64

// newLocalID mints a session-unique provisional id. The monotonic counter
// keeps ids collision-free within the process; the uuid suffix keeps them
// unique across restarts sharing a cache.
func newLocalID() string {
	return fmt.Sprintf("local-%d-%s", localSeq.Add(1), uuid.NewString()[:8])
}

// NewProvisional synthesizes a provisional message for a send operation.
// The record carries a fresh local id, provisional-pending state, empty
// like/delivered/read sets, and the current client time.
//
// A draft with neither content nor attachment is rejected with a
// ValidationError before any store mutation.
func NewProvisional(conversationID string, d Draft, author UserRef, now time.Time) (*Message, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" && d.Attachment == nil {
		return nil, &ValidationError{Reason: "empty message: content or attachment required"}
	}

	kind := d.Kind
	if kind == "" {
		kind = KindText
	}
	body := content
	if body == "" && d.Attachment != nil {
		// Caption defaults to the original filename for non-text kinds.
		body = d.Attachment.FileName
	}

	msg := &Message{
		ID:             newLocalID(),
		ConversationID: conversationID,
		Author:         author,
		Kind:           kind,
		Body:           body,
		Attachment:     d.Attachment,
		CreatedAt:      now,
		Reply:          d.Reply,
		State:          StatePending,
	}
	return msg.Clone(), nil
}
