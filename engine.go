package dsync

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ============================================================================
// Collaborator Contracts
// ============================================================================

// Transport is the remote message API consumed by the engine. Client in this
// package is the HTTP implementation; tests substitute their own.
type Transport interface {
	CreateMessage(ctx context.Context, conversationID string, draft Draft) (*Message, error)
	EditMessage(ctx context.Context, id, body string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	ToggleLike(ctx context.Context, id, userID string) ([]string, error)
	FetchMessages(ctx context.Context, conversationID string) ([]Message, error)
	MarkRead(ctx context.Context, id string) error
}

// Identity supplies the acting user. It must be available before any send or
// like operation; absence is a caller precondition violation, not a
// reconciliation failure.
type Identity interface {
	Self() (UserRef, error)
}

// StaticIdentity is an Identity backed by a fixed user snapshot.
type StaticIdentity UserRef

func (s StaticIdentity) Self() (UserRef, error) {
	if s.ID == "" {
		return UserRef{}, errors.New("no acting user configured")
	}
	return UserRef(s), nil
}

// PushEventType classifies ingestion events from the push channel.
type PushEventType string

const (
	PushCreated PushEventType = "created"
	PushUpdated PushEventType = "updated"
	PushDeleted PushEventType = "deleted"
	PushStatus  PushEventType = "status-changed"
)

// PushEvent is a discrete externally pushed message event, keyed by
// canonical id.
type PushEvent struct {
	Type    PushEventType `json:"type"`
	Message Message       `json:"message"`
}

// ErrConversationSwitched is returned by an in-flight operation whose
// conversation was switched away before the remote call resolved. The
// resolution is discarded, never applied to the now-active store.
var ErrConversationSwitched = errors.New("conversation switched while operation in flight")

// ============================================================================
// Sync Coordinator
// ============================================================================

// Engine drives the per-message state machines for send, edit, delete and
// toggle-like. All four share the pattern optimistic mutation → remote call
// → reconcile-or-revert.
//
// Every in-flight operation is tagged with the epoch of the conversation
// active at issue time; reconciliation is applied only while the epoch still
// matches, so switching conversations cancels outstanding work.
type Engine struct {
	mu        sync.Mutex
	store     *Store
	transport Transport
	identity  Identity
	cache     Cache
	log       zerolog.Logger
	clock     func() time.Time

	convID string
	epoch  uint64
	drafts map[string]Draft // local id → original intent, kept for retry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger injects a structured logger. The default discards everything.
func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithCache attaches an optional snapshot cache used to pre-populate the
// store before the authoritative fetch resolves. The cache is never
// authoritative.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// withClock overrides the provisional timestamp source in tests.
func withClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = now }
}

// NewEngine creates a coordinator over the given transport and identity
// provider.
func NewEngine(t Transport, id Identity, opts ...EngineOption) *Engine {
	e := &Engine{
		transport: t,
		identity:  id,
		store:     NewStore(),
		log:       zerolog.Nop(),
		clock:     time.Now,
		drafts:    make(map[string]Draft),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store.log = e.log
	return e
}

// Store exposes the message store for read projections and subscriptions.
// Presentation must never mutate messages directly.
func (e *Engine) Store() *Store { return e.store }

// Conversation returns the active conversation id.
func (e *Engine) Conversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convID
}

// session captures the conversation and epoch an operation is issued under.
func (e *Engine) session() (string, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convID, e.epoch
}

// stale reports whether the epoch no longer matches, i.e. the conversation
// was switched while the operation was in flight.
func (e *Engine) stale(epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return epoch != e.epoch
}

// ── Conversation lifecycle ───────────────────────────────

// SwitchConversation tears down the active conversation, cancels the
// reconciliation of any in-flight operations, pre-populates the store from
// the cache when one is configured, and loads the authoritative history.
func (e *Engine) SwitchConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	prev := e.convID
	e.epoch++
	epoch := e.epoch
	e.convID = conversationID
	e.drafts = make(map[string]Draft)
	e.mu.Unlock()

	if prev != "" && e.cache != nil {
		e.persistSnapshot(ctx, prev)
	}
	e.store.Clear()
	if conversationID == "" {
		return nil
	}

	if e.cache != nil {
		cached, err := e.cache.Load(ctx, conversationID)
		if err != nil {
			e.log.Warn().Err(err).Str("component", "engine").Str("conv_id", conversationID).Msg("cache preload failed")
		} else {
			for i := range cached {
				e.store.Insert(&cached[i])
			}
		}
	}

	return e.refresh(ctx, conversationID, epoch)
}

// Refresh refetches the authoritative history for the active conversation.
func (e *Engine) Refresh(ctx context.Context) error {
	conv, epoch := e.session()
	if conv == "" {
		return errors.New("no active conversation")
	}
	return e.refresh(ctx, conv, epoch)
}

func (e *Engine) refresh(ctx context.Context, conversationID string, epoch uint64) error {
	msgs, err := e.transport.FetchMessages(ctx, conversationID)
	if err != nil {
		return errors.Wrap(err, "fetch messages")
	}
	if e.stale(epoch) {
		e.log.Debug().Str("component", "engine").Str("conv_id", conversationID).Msg("discarding stale fetch result")
		return ErrConversationSwitched
	}
	e.store.Clear()
	for i := range msgs {
		if msgs[i].State == "" {
			msgs[i].State = StateCommitted
		}
		e.store.Insert(&msgs[i])
	}
	if e.cache != nil {
		e.persistSnapshot(ctx, conversationID)
	}
	return nil
}

// persistSnapshot writes the current store contents to the cache,
// best-effort. Provisional records are skipped: a cache must never replay
// unconfirmed sends into a later session.
func (e *Engine) persistSnapshot(ctx context.Context, conversationID string) {
	snap := e.store.Snapshot()
	committed := snap[:0]
	for _, m := range snap {
		if m.State == StateCommitted {
			committed = append(committed, m)
		}
	}
	if err := e.cache.Store(ctx, conversationID, committed); err != nil {
		e.log.Warn().Err(err).Str("component", "engine").Str("conv_id", conversationID).Msg("cache persist failed")
	}
}

// ── Send ─────────────────────────────────────────────────

// Send inserts a provisional message immediately, issues the remote create,
// and reconciles: on success the provisional record is atomically swapped
// for the canonical one; on failure it stays visible as provisional-failed
// so the user can see and retry it.
//
// The returned local id identifies the provisional record and is the retry
// handle on failure.
func (e *Engine) Send(ctx context.Context, d Draft) (string, error) {
	self, err := e.identity.Self()
	if err != nil {
		return "", errors.Wrap(err, "resolve acting user")
	}
	conv, epoch := e.session()
	if conv == "" {
		return "", errors.New("no active conversation")
	}

	msg, err := NewProvisional(conv, d, self, e.clock())
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.drafts[msg.ID] = d
	e.mu.Unlock()
	e.store.Insert(msg)

	return msg.ID, e.dispatchSend(ctx, conv, epoch, msg.ID, d)
}

// Retry re-enters the send state machine for a failed provisional message,
// reusing the same local id. The engine never retries automatically: without
// a transport-level idempotency key, silent retries risk duplicate sends.
func (e *Engine) Retry(ctx context.Context, localID string) error {
	msg, ok := e.store.Get(localID)
	if !ok {
		return &NotFoundError{ID: localID}
	}
	if msg.State != StateFailed {
		return errors.Errorf("message %s is not retryable (state %s)", localID, msg.State)
	}
	e.mu.Lock()
	d, ok := e.drafts[localID]
	e.mu.Unlock()
	if !ok {
		return &NotFoundError{ID: localID}
	}
	conv, epoch := e.session()

	pending := StatePending
	e.store.Patch(localID, MessagePatch{State: &pending})
	return e.dispatchSend(ctx, conv, epoch, localID, d)
}

func (e *Engine) dispatchSend(ctx context.Context, conv string, epoch uint64, localID string, d Draft) error {
	canonical, err := e.transport.CreateMessage(ctx, conv, d)
	if e.stale(epoch) {
		e.log.Debug().Str("component", "engine").Str("local_id", localID).Msg("discarding stale send resolution")
		return ErrConversationSwitched
	}
	if err != nil {
		failed := StateFailed
		e.store.Patch(localID, MessagePatch{State: &failed})
		return errors.Wrap(err, "send message")
	}

	canonical = canonical.Clone()
	canonical.State = StateCommitted
	e.store.ReplaceID(localID, canonical)
	e.mu.Lock()
	delete(e.drafts, localID)
	e.mu.Unlock()
	if e.cache != nil {
		e.persistSnapshot(ctx, conv)
	}
	return nil
}

// ── Edit ─────────────────────────────────────────────────

// Edit applies the new body optimistically and reconciles with the server.
// On failure only the fields this operation owns (body, edited) are
// restored, so a concurrently landed sibling mutation such as a like is
// never clobbered. A server-side not-found removes the message locally.
func (e *Engine) Edit(ctx context.Context, id, newBody string) error {
	capture, ok := e.store.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	_, epoch := e.session()
	prevBody, prevEdited := capture.Body, capture.Edited

	edited := true
	e.store.Patch(id, MessagePatch{Body: &newBody, Edited: &edited})

	canonical, err := e.transport.EditMessage(ctx, id, newBody)
	if e.stale(epoch) {
		e.log.Debug().Str("component", "engine").Str("id", id).Msg("discarding stale edit resolution")
		return ErrConversationSwitched
	}
	if err != nil {
		if IsNotFound(err) {
			e.store.Remove(id)
			return err
		}
		e.store.Patch(id, MessagePatch{Body: &prevBody, Edited: &prevEdited})
		return errors.Wrap(err, "edit message")
	}

	// Local state already matches intent; only a diverging canonical body
	// wins over the optimistic one.
	if canonical != nil && canonical.Body != newBody {
		e.store.Patch(id, MessagePatch{Body: &canonical.Body})
	}
	return nil
}

// ── Delete ───────────────────────────────────────────────

// Delete removes the message optimistically. On a network failure the
// captured record is re-inserted; the store's sort-preserving insert
// restores its position without remembering the original index. A
// server-side not-found keeps the message removed: server truth.
func (e *Engine) Delete(ctx context.Context, id string) error {
	capture, ok := e.store.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	_, epoch := e.session()

	e.store.Remove(id)

	err := e.transport.DeleteMessage(ctx, id)
	if e.stale(epoch) {
		e.log.Debug().Str("component", "engine").Str("id", id).Msg("discarding stale delete resolution")
		return ErrConversationSwitched
	}
	if err != nil {
		if IsNotFound(err) {
			e.log.Debug().Str("component", "engine").Str("id", id).Msg("delete target already gone server-side")
			return nil
		}
		e.store.Insert(capture)
		return errors.Wrap(err, "delete message")
	}
	return nil
}

// ── Toggle-like ──────────────────────────────────────────

// ToggleLike flips the acting user's membership in the like set
// optimistically. On success the server's returned set replaces the local
// one entirely, resolving races with concurrent toggles from other devices;
// on failure the pre-toggle set is restored exactly.
func (e *Engine) ToggleLike(ctx context.Context, id string) error {
	self, err := e.identity.Self()
	if err != nil {
		return errors.Wrap(err, "resolve acting user")
	}
	capture, ok := e.store.Get(id)
	if !ok {
		return &NotFoundError{ID: id}
	}
	_, epoch := e.session()

	prev := cloneIDs(capture.LikedBy)
	if prev == nil {
		prev = []string{}
	}
	e.store.Patch(id, MessagePatch{LikedBy: toggleID(capture.LikedBy, self.ID)})

	set, err := e.transport.ToggleLike(ctx, id, self.ID)
	if e.stale(epoch) {
		e.log.Debug().Str("component", "engine").Str("id", id).Msg("discarding stale like resolution")
		return ErrConversationSwitched
	}
	if err != nil {
		if IsNotFound(err) {
			e.store.Remove(id)
			return err
		}
		e.store.Patch(id, MessagePatch{LikedBy: prev})
		return errors.Wrap(err, "toggle like")
	}
	if set == nil {
		set = []string{}
	}
	e.store.Patch(id, MessagePatch{LikedBy: set})
	return nil
}

// ── Read receipts ────────────────────────────────────────

// MarkRead records a read receipt, best-effort: the local read set grows
// immediately and a remote failure is logged, never surfaced.
func (e *Engine) MarkRead(ctx context.Context, id string) {
	self, err := e.identity.Self()
	if err != nil {
		e.log.Warn().Err(err).Str("component", "engine").Str("id", id).Msg("mark read skipped, no acting user")
		return
	}
	e.store.Patch(id, MessagePatch{ReadBy: []string{self.ID}})
	if err := e.transport.MarkRead(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("component", "engine").Str("id", id).Msg("mark read failed")
	}
}

// ── Ingestion ────────────────────────────────────────────

// Ingest applies an externally pushed message event to the store. Events for
// other conversations are dropped. Ingestion never touches provisional
// records: they have no canonical id for an event to match against.
func (e *Engine) Ingest(ev PushEvent) {
	conv, _ := e.session()
	if ev.Message.ConversationID != conv {
		e.log.Debug().Str("component", "engine").Str("conv_id", ev.Message.ConversationID).Str("id", ev.Message.ID).Msg("dropping push event for inactive conversation")
		return
	}

	switch ev.Type {
	case PushCreated:
		msg := ev.Message.Clone()
		msg.State = StateCommitted
		e.store.Insert(msg)
	case PushUpdated:
		m := ev.Message
		e.store.Patch(m.ID, MessagePatch{
			Body:    &m.Body,
			Edited:  &m.Edited,
			LikedBy: m.LikedBy,
		})
	case PushDeleted:
		e.store.Remove(ev.Message.ID)
	case PushStatus:
		e.store.Patch(ev.Message.ID, MessagePatch{
			DeliveredTo: ev.Message.DeliveredTo,
			ReadBy:      ev.Message.ReadBy,
		})
	default:
		e.log.Warn().Str("component", "engine").Str("type", string(ev.Type)).Msg("unknown push event type")
	}
}
