package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
)

// Handler serves the caller's notifications.
type Handler struct {
	pool  *database.Pool
	store *Store
}

func NewHandler(pool *database.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// HandleList returns the caller's notifications with the unread count.
// GET /api/v1/notifications?unread=true&limit=50
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unreadOnly := false
	if raw := q.Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid unread flag"})
			return
		}
		unreadOnly = v
	}
	limit := 50
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = min(n, 200)
	}

	sess := middleware.GetSession(r.Context())
	var (
		items  []Notification
		unread int
	)
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if items, err = h.store.List(ctx, q, sess.UserID, unreadOnly, limit); err != nil {
			return err
		}
		unread, err = h.store.UnreadCount(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list notifications"})
		return
	}

	if items == nil {
		items = []Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items, "unread": unread})
}

// HandleMarkRead marks one notification read.
// POST /api/v1/notifications/{id}/read
func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid notification id"})
		return
	}

	sess := middleware.GetSession(r.Context())
	var n *Notification
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		n, err = h.store.MarkRead(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "notification not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to mark notification read"})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// HandleMarkAllRead marks all of the caller's notifications read.
// POST /api/v1/notifications/read-all
func (h *Handler) HandleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	var updated int64
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		updated, err = h.store.MarkAllRead(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to mark notifications read"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
