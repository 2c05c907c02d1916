package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/storage"
)

const maxPhotoBytes = 10 << 20

// Notifier enqueues notifications on the caller's transaction.
type Notifier interface {
	Enqueue(ctx context.Context, q database.Querier, d notification.Draft) error
}

// Handler serves maintenance tickets to the landlord and tenant on them.
type Handler struct {
	pool     *database.Pool
	store    *Store
	objects  storage.Store
	notifier Notifier
	audit    audit.Logger
}

func NewHandler(pool *database.Pool, store *Store, objects storage.Store, notifier Notifier, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{pool: pool, store: store, objects: objects, notifier: notifier, audit: auditLog}
}

// HandleOpen opens a ticket. Tenants open on a unit they actively lease,
// landlords on one of their own units.
// POST /api/v1/tickets
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var in OpenInput
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := uuid.Parse(in.UnitID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit_id is required"})
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var t *Ticket
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		switch sess.Role {
		case auth.RoleTenant:
			t, err = h.store.OpenAsTenant(ctx, q, sess.UserID, in)
		case auth.RoleLandlord:
			t, err = h.store.OpenAsLandlord(ctx, q, sess.UserID, in)
		default:
			err = ErrUnitNotFound
		}
		if err != nil {
			return err
		}
		return h.notify(ctx, q, t, sess.UserID, notification.KindTicketOpened, "New maintenance ticket: "+t.Title, nil)
	})
	if err != nil {
		writeStoreError(w, err, "failed to open ticket")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionTicketOpened, "ticket", t.ID,
		map[string]any{"unit_id": t.UnitID, "priority": t.Priority})
	writeJSON(w, http.StatusCreated, t)
}

// HandleList lists the caller's tickets.
// GET /api/v1/tickets?status=&priority=&property_id=&limit=&offset=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pagination"})
		return
	}
	query := r.URL.Query()
	f := Filter{
		Status:     query.Get("status"),
		Priority:   query.Get("priority"),
		PropertyID: query.Get("property_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if f.Status != "" && !ValidStatus(f.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	if f.Priority != "" && validatePriority(f.Priority) != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid priority"})
		return
	}
	if f.PropertyID != "" {
		if _, err := uuid.Parse(f.PropertyID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid property_id"})
			return
		}
	}

	sess := middleware.GetSession(r.Context())
	var tickets []Ticket
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		tickets, err = h.store.List(ctx, q, sess.UserID, f)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list tickets")
		return
	}

	if tickets == nil {
		tickets = []Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// HandleGet returns a ticket with its comments and photos.
// GET /api/v1/tickets/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var d Detail
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if d.Ticket, err = h.store.Get(ctx, q, sess.UserID, id); err != nil {
			return err
		}
		if d.Comments, err = h.store.ListComments(ctx, q, sess.UserID, id); err != nil {
			return err
		}
		d.Photos, err = h.store.ListPhotos(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get ticket")
		return
	}

	if d.Comments == nil {
		d.Comments = []Comment{}
	}
	if d.Photos == nil {
		d.Photos = []Photo{}
	}
	writeJSON(w, http.StatusOK, d)
}

// HandleUpdate edits a ticket or moves its status. The body must carry the
// version the client last saw; a stale version returns 409 with the current
// ticket.
// PATCH /api/v1/tickets/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in UpdateInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var (
		t    *Ticket
		from string
	)
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if t, from, err = h.store.Update(ctx, q, sess.UserID, id, in); err != nil {
			return err
		}
		title := "Ticket updated: " + t.Title
		if t.Status != from {
			title = "Ticket " + statusLabel(t.Status) + ": " + t.Title
		}
		return h.notify(ctx, q, t, sess.UserID, notification.KindTicketUpdated, title,
			map[string]any{"from": from, "status": t.Status, "version": t.Version})
	})
	if err != nil {
		writeStoreError(w, err, "failed to update ticket")
		return
	}

	meta := map[string]any{"version": t.Version}
	if t.Status != from {
		meta["from"], meta["to"] = from, t.Status
	}
	audit.Record(r.Context(), h.audit, audit.ActionTicketUpdated, "ticket", id, meta)
	writeJSON(w, http.StatusOK, t)
}

// HandleListComments returns a ticket's comments.
// GET /api/v1/tickets/{id}/comments
func (h *Handler) HandleListComments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var comments []Comment
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		comments, err = h.store.ListComments(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list comments")
		return
	}

	if comments == nil {
		comments = []Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// HandleAddComment posts a comment on a ticket.
// POST /api/v1/tickets/{id}/comments {"body": "..."}
func (h *Handler) HandleAddComment(w http.ResponseWriter, r *http.Request) {
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
	body, err := NormalizeComment(in.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var c *Comment
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var (
			t   *Ticket
			err error
		)
		if c, t, err = h.store.AddComment(ctx, q, sess.UserID, id, body); err != nil {
			return err
		}
		return h.notify(ctx, q, t, sess.UserID, notification.KindTicketComment, "New comment on "+t.Title,
			map[string]any{"comment_id": c.ID})
	})
	if err != nil {
		writeStoreError(w, err, "failed to add comment")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionTicketCommented, "ticket", id, map[string]any{"comment_id": c.ID})
	writeJSON(w, http.StatusCreated, c)
}

// HandleUploadPhoto attaches an image to a ticket.
// POST /api/v1/tickets/{id}/photos (multipart field "photo")
func (h *Handler) HandleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	up, err := storage.ReadImage(w, r, "photo", maxPhotoBytes)
	if err != nil {
		status, msg := storage.UploadStatus(err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	sess := middleware.GetSession(r.Context())
	var existing *Ticket
	err = database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		existing, err = h.store.Get(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to add photo")
		return
	}

	key := "tickets/" + existing.ID + "/" + uuid.NewString() + up.Ext
	if err := h.objects.Put(r.Context(), key, up.ContentType, bytes.NewReader(up.Data)); err != nil {
		slog.Error("storing ticket photo", "ticket_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store photo"})
		return
	}

	var p *Photo
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var (
			t   *Ticket
			err error
		)
		if p, t, err = h.store.AddPhoto(ctx, q, sess.UserID, id, key, up.ContentType); err != nil {
			return err
		}
		return h.notify(ctx, q, t, sess.UserID, notification.KindTicketUpdated, "Photo added to "+t.Title,
			map[string]any{"photo_id": p.ID})
	})
	if err != nil {
		_ = h.objects.Delete(context.WithoutCancel(r.Context()), key)
		writeStoreError(w, err, "failed to add photo")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionTicketPhotoAdded, "ticket", id, map[string]any{"photo_id": p.ID})
	writeJSON(w, http.StatusCreated, p)
}

// HandlePhoto streams a ticket photo to a participant.
// GET /api/v1/tickets/{id}/photos/{photoID}
func (h *Handler) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var p *Photo
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.GetPhoto(ctx, q, sess.UserID, id, photoID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get photo")
		return
	}
	storage.Serve(w, r, h.objects, p.ObjectKey)
}

func (h *Handler) notify(ctx context.Context, q database.Querier, t *Ticket, actorID, kind, title string, data map[string]any) error {
	to := t.OtherParty(actorID)
	if to == "" {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}
	data["ticket_id"] = t.ID
	return h.notifier.Enqueue(ctx, q, notification.Draft{
		UserID: to,
		Kind:   kind,
		Title:  title,
		Data:   data,
	})
}

func statusLabel(status string) string {
	if status == StatusInProgress {
		return "in progress"
	}
	return status
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": conflict.Error(), "ticket": conflict.Current})
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrUnitNotFound), errors.Is(err, ErrPhotoNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidTicket), errors.Is(err, ErrInvalidComment), errors.Is(err, ErrTooManyPhotos):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrNotAllowed):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
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

func pageParams(r *http.Request) (limit, offset int, ok bool) {
	limit = 50
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		limit = min(n, 200)
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
