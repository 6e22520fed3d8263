package dsync

import "time"

// ============================================================================
// Message Entity
// ============================================================================

// Kind is the message content kind.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// LifecycleState tracks a message through the optimistic send cycle.
//
// Transitions: provisional-pending → committed, or
// provisional-pending → provisional-failed → (retry) → provisional-pending.
// A committed message never returns to a provisional state.
type LifecycleState string

const (
	StatePending   LifecycleState = "provisional-pending"
	StateFailed    LifecycleState = "provisional-failed"
	StateCommitted LifecycleState = "committed"
)

// UserRef is a denormalized snapshot of a user, not a live join.
type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Attachment references uploaded binary content. Upload transport is outside
// the engine; by the time a message is created the file is already hosted
// and the message carries only this reference.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// ReplyRef is a weak reference to another message plus a preview snapshot.
// The referenced message may be deleted later without touching this record.
type ReplyRef struct {
	ID         string `json:"id"`
	Preview    string `json:"preview"`
	AuthorName string `json:"authorName,omitempty"`
}

// Message is the central entity of a conversation.
//
// ID is either local (client-minted, "local-" prefix) while the message is
// provisional, or canonical (server-assigned) once committed. A message has
// exactly one id at any time; a local id is never reused once replaced.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	Author         UserRef        `json:"sender"`
	Kind           Kind           `json:"kind"`
	Body           string         `json:"body"`
	Attachment     *Attachment    `json:"attachment,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	Reply          *ReplyRef      `json:"replyTo,omitempty"`
	LikedBy        []string       `json:"likedBy,omitempty"`
	DeliveredTo    []string       `json:"deliveredTo,omitempty"`
	ReadBy         []string       `json:"readBy,omitempty"`
	Edited         bool           `json:"edited,omitempty"`
	State          LifecycleState `json:"state"`
}

// Provisional reports whether the message has not yet been confirmed by the
// server.
func (m *Message) Provisional() bool {
	return m.State == StatePending || m.State == StateFailed
}

// Clone returns a deep copy, so store snapshots can be handed out without
// sharing slice backing arrays with callers.
func (m *Message) Clone() *Message {
	c := *m
	c.LikedBy = cloneIDs(m.LikedBy)
	c.DeliveredTo = cloneIDs(m.DeliveredTo)
	c.ReadBy = cloneIDs(m.ReadBy)
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.Reply != nil {
		r := *m.Reply
		c.Reply = &r
	}
	return &c
}

// MessagePatch is a partial update applied by Store.Patch. Nil fields are
// left untouched. LikedBy replaces the whole set (server-authoritative);
// DeliveredTo and ReadBy are merged as monotonically growing sets.
type MessagePatch struct {
	Body        *string
	Edited      *bool
	State       *LifecycleState
	LikedBy     []string
	DeliveredTo []string
	ReadBy      []string
}

// ============================================================================
// Id-set helpers
// ============================================================================

// The likedBy/deliveredTo/readBy sets are kept as slices for stable JSON,
// with idempotent membership operations.

func cloneIDs(ids []string) []string {
	if ids == nil {
		return nil
	}
	return append([]string(nil), ids...)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// addID appends id if absent. Applying it twice yields the same set.
func addID(ids []string, id string) []string {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// unionIDs merges extra into ids without duplicates, preserving order.
func unionIDs(ids, extra []string) []string {
	for _, id := range extra {
		ids = addID(ids, id)
	}
	return ids
}

// toggleID flips membership of id in ids, returning a fresh slice.
func toggleID(ids []string, id string) []string {
	out := cloneIDs(ids)
	if containsID(out, id) {
		return removeID(out, id)
	}
	return append(out, id)
}
