package concierge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/ai"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/sentinel"
)

// Config bounds what goes into a concierge prompt.
type Config struct {
	HistoryLimit      int
	MaxContextEntries int
	Timeout           time.Duration
}

// Handler serves the knowledge base to landlords and the chat to tenants.
type Handler struct {
	pool   *database.Pool
	store  *Store
	gen    ai.Generator
	screen sentinel.Sentinel
	audit  audit.Logger
	cfg    Config
}

func NewHandler(pool *database.Pool, store *Store, gen ai.Generator, screen sentinel.Sentinel, auditLog audit.Logger, cfg Config) *Handler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.MaxContextEntries <= 0 {
		cfg.MaxContextEntries = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if screen == nil {
		screen = sentinel.NopSentinel{}
	}
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{pool: pool, store: store, gen: gen, screen: screen, audit: auditLog, cfg: cfg}
}

// HandleListEntries lists a property's knowledge base.
// GET /api/v1/properties/{id}/kb
func (h *Handler) HandleListEntries(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var entries []Entry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		entries, err = h.store.ListEntries(ctx, q, sess.UserID, propertyID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list entries")
		return
	}

	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleCreateEntry adds a knowledge base entry.
// POST /api/v1/properties/{id}/kb
func (h *Handler) HandleCreateEntry(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in EntryInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var e *Entry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		e, err = h.store.CreateEntry(ctx, q, sess.UserID, propertyID, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to create entry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionKnowledgeChanged, "kb_entry", e.ID,
		map[string]any{"op": "create", "property_id": propertyID})
	writeJSON(w, http.StatusCreated, e)
}

// HandleGetEntry returns one entry.
// GET /api/v1/kb/{id}
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var e *Entry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		e, err = h.store.GetEntry(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get entry")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandleUpdateEntry replaces an entry.
// PUT /api/v1/kb/{id}
func (h *Handler) HandleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in EntryInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var e *Entry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		e, err = h.store.UpdateEntry(ctx, q, sess.UserID, id, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update entry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionKnowledgeChanged, "kb_entry", id,
		map[string]any{"op": "update", "property_id": e.PropertyID})
	writeJSON(w, http.StatusOK, e)
}

// HandleDeleteEntry removes an entry.
// DELETE /api/v1/kb/{id}
func (h *Handler) HandleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		return h.store.DeleteEntry(ctx, q, sess.UserID, id)
	})
	if err != nil {
		writeStoreError(w, err, "failed to delete entry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionKnowledgeChanged, "kb_entry", id, map[string]any{"op": "delete"})
	w.WriteHeader(http.StatusNoContent)
}

type chatResponse struct {
	Message *Message `json:"message"`
	Reply   *Message `json:"reply"`
}

// HandleChat screens a tenant question, answers it from the property's
// knowledge base and stores both turns. Blocked questions are stored flagged
// and rejected with 422.
// POST /api/v1/concierge/messages
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var in ChatInput
	if !decodeBody(w, r, &in) {
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
		property Property
		entries  []Entry
		history  []Message
	)
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if property, err = h.store.ResolveProperty(ctx, q, sess.UserID, in.PropertyID); err != nil {
			return err
		}
		if entries, err = h.store.ContextEntries(ctx, q, sess.UserID, property.ID); err != nil {
			return err
		}
		history, err = h.store.History(ctx, q, sess.UserID, property.ID, h.cfg.HistoryLimit, false)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to load concierge context")
		return
	}

	verdict, err := h.screen.Scan(r.Context(), sentinel.ScanInput{
		UserID:     sess.UserID,
		PropertyID: property.ID,
		Content:    in.Message,
	})
	if err != nil {
		slog.Warn("concierge screening failed", "error", err)
		verdict = sentinel.ScanResult{Allowed: true}
	}

	question := Message{Role: RoleUser, Content: in.Message, Flagged: verdict.Flagged(), FlagReason: verdict.Reason}
	if !verdict.Allowed {
		var saved *Message
		err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
			var err error
			saved, err = h.store.SaveMessage(ctx, q, sess.UserID, property.ID, question)
			return err
		})
		if err != nil {
			writeStoreError(w, err, "failed to store message")
			return
		}
		audit.Record(r.Context(), h.audit, audit.ActionConciergeBlocked, "concierge_message", saved.ID,
			map[string]any{"property_id": property.ID, "reason": verdict.Reason, "score": verdict.Score})
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": ErrBlocked.Error()})
		return
	}

	req := BuildRequest(property, SelectEntries(entries, in.Message, h.cfg.MaxContextEntries), history, in.Message)
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Timeout)
	resp, err := h.gen.Generate(ctx, req)
	cancel()
	if err != nil {
		slog.Error("concierge generation failed", "error", err, "property_id", property.ID)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "concierge is unavailable"})
		return
	}

	var out chatResponse
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if out.Message, err = h.store.SaveMessage(ctx, q, sess.UserID, property.ID, question); err != nil {
			return err
		}
		out.Reply, err = h.store.SaveMessage(ctx, q, sess.UserID, property.ID, Message{Role: RoleAssistant, Content: resp.Text})
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to store messages")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleHistory returns the caller's chat history in chronological order.
// GET /api/v1/concierge/messages?property_id=&limit=
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := propertyFilter(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, 200)
	}

	sess := middleware.GetSession(r.Context())
	var msgs []Message
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		msgs, err = h.store.History(ctx, q, sess.UserID, propertyID, limit, true)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to load history")
		return
	}

	if msgs == nil {
		msgs = []Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// HandleClearHistory deletes the caller's chat history.
// DELETE /api/v1/concierge/messages?property_id=
func (h *Handler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := propertyFilter(w, r)
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var n int64
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		n, err = h.store.ClearHistory(ctx, q, sess.UserID, propertyID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func propertyFilter(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("property_id")
	if id == "" {
		return "", true
	}
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid property_id"})
		return "", false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrPropertyNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrDuplicateTitle):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNoActiveLease):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidEntry), errors.Is(err, ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error(fallback, "error", err)
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
