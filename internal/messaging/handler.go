package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/realtime"
)

// Event types published on the messages topic.
const (
	EventMessageCreated = "message.created"
	EventMessagesRead   = "messages.read"
)

// Notifier enqueues notifications on the caller's transaction.
type Notifier interface {
	Enqueue(ctx context.Context, q database.Querier, d notification.Draft) error
}

// Publisher pushes events to connected clients.
type Publisher interface {
	Publish(ctx context.Context, e realtime.Event) error
}

// Handler serves conversations and messages.
type Handler struct {
	pool     *database.Pool
	store    *Store
	notifier Notifier
	events   Publisher
	audit    audit.Logger
}

func NewHandler(pool *database.Pool, store *Store, notifier Notifier, events Publisher, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{pool: pool, store: store, notifier: notifier, events: events, audit: auditLog}
}

// HandleStart opens a conversation with another user, or returns the
// existing one for the same participants and property.
// POST /api/v1/conversations
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var in StartInput
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := uuid.Parse(in.ParticipantID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participant_id is required"})
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if in.PropertyID != nil {
		if _, err := uuid.Parse(*in.PropertyID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid property_id"})
			return
		}
	}

	sess := middleware.GetSession(r.Context())
	var (
		c       *Conversation
		created bool
	)
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		c, created, err = h.store.Start(ctx, q, sess.UserID, sess.Role, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to start conversation")
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, c)
		return
	}
	audit.Record(r.Context(), h.audit, audit.ActionConversationStarted, "conversation", c.ID,
		map[string]any{"participant_id": in.ParticipantID})
	writeJSON(w, http.StatusCreated, c)
}

// HandleList lists the caller's conversations with unread counts.
// GET /api/v1/conversations
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	var conversations []Conversation
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		conversations, err = h.store.List(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list conversations")
		return
	}

	if conversations == nil {
		conversations = []Conversation{}
	}
	writeJSON(w, http.StatusOK, conversations)
}

// HandleGet returns one conversation.
// GET /api/v1/conversations/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var c *Conversation
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		c, err = h.store.Get(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleMessages pages backwards through a conversation.
// GET /api/v1/conversations/{id}/messages?before=&limit=
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	query := r.URL.Query()
	before := query.Get("before")
	if before != "" {
		if _, err := uuid.Parse(before); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid before"})
			return
		}
	}
	limit := DefaultPageSize
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, MaxPageSize)
	}

	sess := middleware.GetSession(r.Context())
	var messages []Message
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		messages, err = h.store.Messages(ctx, q, sess.UserID, id, before, limit)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list messages")
		return
	}

	if messages == nil {
		messages = []Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

// HandleSend posts a message and pushes it to the other participant.
// POST /api/v1/conversations/{id}/messages {"body": "..."}
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	body, err := NormalizeBody(in.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var (
		m *Message
		c *Conversation
	)
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if m, c, err = h.store.Send(ctx, q, sess.UserID, id, body); err != nil {
			return err
		}
		return h.notifier.Enqueue(ctx, q, notification.Draft{
			UserID: c.Recipient(sess.UserID),
			Kind:   notification.KindMessageReceived,
			Title:  "New message",
			Body:   preview(body),
			Data:   map[string]any{"conversation_id": id, "message_id": m.ID},
		})
	})
	if err != nil {
		writeStoreError(w, err, "failed to send message")
		return
	}

	h.publish(r.Context(), EventMessageCreated, c.Recipient(sess.UserID), m)
	writeJSON(w, http.StatusCreated, m)
}

// HandleMarkRead marks received messages read up to a message.
// POST /api/v1/conversations/{id}/read {"message_id": "..."}
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		MessageID string `json:"message_id"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := uuid.Parse(in.MessageID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message_id is required"})
		return
	}

	sess := middleware.GetSession(r.Context())
	var (
		c *Conversation
		n int64
	)
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		c, n, err = h.store.MarkRead(ctx, q, sess.UserID, id, in.MessageID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to mark messages read")
		return
	}

	if n > 0 {
		h.publish(r.Context(), EventMessagesRead, c.Recipient(sess.UserID),
			map[string]any{"conversation_id": id, "up_to": in.MessageID, "reader_id": sess.UserID})
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// publish logs delivery failures and carries on.
func (h *Handler) publish(ctx context.Context, eventType, userID string, payload any) {
	if h.events == nil {
		return
	}
	e, err := realtime.NewEvent(realtime.TopicMessages, eventType, []string{userID}, payload)
	if err == nil {
		err = h.events.Publish(context.WithoutCancel(ctx), e)
	}
	if err != nil {
		slog.Warn("publishing message event", "type", eventType, "error", err)
	}
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= 120 {
		return body
	}
	return string(r[:119]) + "…"
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrConversationNotFound), errors.Is(err, ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrParticipantNotFound), errors.Is(err, ErrPropertyNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidConversation), errors.Is(err, ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
