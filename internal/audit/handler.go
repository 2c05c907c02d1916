package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
)

// Handler serves audit query endpoints.
type Handler struct {
	pool  *database.Pool
	store *Store
}

// NewHandler creates an audit query handler.
func NewHandler(pool *database.Pool, store *Store) *Handler {
	return &Handler{pool: pool, store: store}
}

// HandleListEvents returns audit events.
// GET /api/v1/admin/audit/events?limit=50&after=<RFC3339>&action=lease.signed
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	params, msg := parseListParams(r)
	if msg != "" {
		writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	if h.pool == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []Record{}, "count": 0})
		return
	}

	var records []Record
	err := database.WithSession(r.Context(), h.pool, middleware.GetSession(r.Context()), func(ctx context.Context, q database.Querier) error {
		var err error
		records, err = h.store.ListEvents(ctx, q, params)
		return err
	})
	if err != nil {
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	if records == nil {
		records = []Record{}
	}
	writeAuditJSON(w, http.StatusOK, map[string]any{"events": records, "count": len(records)})
}

func parseListParams(r *http.Request) (ListEventsParams, string) {
	q := r.URL.Query()
	p := ListEventsParams{Limit: 50}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return p, "invalid limit"
		}
		p.Limit = min(n, 200)
	}

	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"after", &p.After}, {"before", &p.Before}} {
		if raw := q.Get(f.name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return p, "invalid " + f.name + " timestamp"
			}
			*f.dst = &t
		}
	}

	for _, f := range []struct {
		name string
		dst  **string
	}{{"action", &p.Action}, {"resource_type", &p.ResourceType}, {"source", &p.Source}} {
		if raw := q.Get(f.name); raw != "" {
			v := raw
			*f.dst = &v
		}
	}

	for _, f := range []struct {
		name string
		dst  **uuid.UUID
	}{{"user_id", &p.UserID}, {"resource_id", &p.ResourceID}} {
		if raw := q.Get(f.name); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return p, "invalid " + f.name
			}
			*f.dst = &id
		}
	}

	return p, ""
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
