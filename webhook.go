package dsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ============================================================================
// Webhook Delivery of Push Events
// ============================================================================

// The same events the websocket channel carries can be delivered
// server-to-server as signed webhooks, e.g. to a bot backend. The payload
// wraps a push event with its origin metadata.

// WebhookPayload is a DSync push-event webhook body.
type WebhookPayload struct {
	Source    string        `json:"source"`
	Event     PushEventType `json:"event"`
	Timestamp int64         `json:"timestamp"`
	Message   Message       `json:"message"`
}

// PushEvent converts the payload into an ingestion event.
func (p *WebhookPayload) PushEvent() PushEvent {
	return PushEvent{Type: p.Event, Message: p.Message}
}

// WebhookHandlerFunc is the callback signature for handling verified
// webhook payloads, typically feeding Engine.Ingest.
type WebhookHandlerFunc func(payload *WebhookPayload) error

// VerifyWebhookSignature verifies a DSync webhook signature using
// HMAC-SHA256 with constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookPayload parses a raw webhook body into a typed payload.
func ParseWebhookPayload(body string) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, errors.Wrap(err, "invalid JSON in webhook body")
	}

	if payload.Source != "dsync" {
		return nil, errors.Errorf("unknown webhook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, errors.New("missing event field in webhook payload")
	}
	if payload.Message.ID == "" || payload.Message.ConversationID == "" {
		return nil, errors.New("missing message fields in webhook payload")
	}

	return &payload, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook handles DSync webhook verification, parsing, and dispatch.
type Webhook struct {
	secret  string
	onEvent WebhookHandlerFunc
}

// NewWebhook creates a webhook receiver with the shared signing secret.
func NewWebhook(secret string, onEvent WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	return &Webhook{secret: secret, onEvent: onEvent}, nil
}

// Verify verifies an HMAC-SHA256 signature against the shared secret.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle processes a webhook request (verify + parse + dispatch). It
// returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "invalid signature"}
	}

	payload, err := ParseWebhookPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if err := w.onEvent(payload); err != nil {
		return http.StatusInternalServerError, map[string]string{"error": err.Error()}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := dsync.NewWebhook(secret, func(p *dsync.WebhookPayload) error {
//	    engine.Ingest(p.PushEvent())
//	    return nil
//	})
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			_ = json.NewEncoder(rw).Encode(map[string]string{"error": "method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(rw).Encode(map[string]string{"error": "failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get("X-DSync-Signature"))
		rw.WriteHeader(statusCode)
		_ = json.NewEncoder(rw).Encode(data)
	})
}
