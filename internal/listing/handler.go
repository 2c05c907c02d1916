package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/audit"
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

// Handler serves landlord listing management, the public browse and
// inquiries.
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

// HandleCreate creates a draft listing for one of the caller's units.
// POST /api/v1/listings
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !decodeBody(w, r, &in) {
		return
	}
	if _, err := uuid.Parse(in.UnitID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit_id is required"})
		return
	}
	if err := in.Validate(true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Listing
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Create(ctx, q, sess.UserID, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to create listing")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionListingCreated, "listing", l.ID, map[string]any{"unit_id": l.UnitID})
	writeJSON(w, http.StatusCreated, h.withPhotoURLs(l))
}

// HandleList lists the caller's listings.
// GET /api/v1/listings?status=published
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", StatusDraft, StatusPublished, StatusArchived:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	sess := middleware.GetSession(r.Context())
	var listings []Listing
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		listings, err = h.store.List(ctx, q, sess.UserID, status)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list listings")
		return
	}

	if listings == nil {
		listings = []Listing{}
	}
	for i := range listings {
		h.photoURLs(listings[i].Photos)
	}
	writeJSON(w, http.StatusOK, listings)
}

// HandleGet returns one of the caller's listings.
// GET /api/v1/listings/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Listing
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Get(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get listing")
		return
	}
	writeJSON(w, http.StatusOK, h.withPhotoURLs(l))
}

// HandleUpdate edits a listing that is not archived.
// PATCH /api/v1/listings/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in Input
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Listing
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Update(ctx, q, sess.UserID, id, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update listing")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionListingUpdated, "listing", l.ID, nil)
	writeJSON(w, http.StatusOK, h.withPhotoURLs(l))
}

// HandlePublish puts a listing on the public browse.
// POST /api/v1/listings/{id}/publish
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.store.Publish, audit.ActionListingPublished)
}

// HandleArchive takes a listing off the public browse.
// POST /api/v1/listings/{id}/archive
func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.store.Archive, audit.ActionListingArchived)
}

type transitionFunc func(ctx context.Context, q database.Querier, landlordID, id string) (*Listing, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc, action string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Listing
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = fn(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to change listing status")
		return
	}

	audit.Record(r.Context(), h.audit, action, "listing", l.ID, nil)
	writeJSON(w, http.StatusOK, h.withPhotoURLs(l))
}

// HandleUploadPhoto appends an image to a listing.
// POST /api/v1/listings/{id}/photos (multipart field "photo")
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
	key := "listings/" + id + "/" + uuid.NewString() + up.Ext
	if err := h.objects.Put(r.Context(), key, up.ContentType, bytes.NewReader(up.Data)); err != nil {
		slog.Error("storing listing photo", "listing_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store photo"})
		return
	}

	var p *Photo
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.AddPhoto(ctx, q, sess.UserID, id, key, up.ContentType)
		return err
	})
	if err != nil {
		_ = h.objects.Delete(context.WithoutCancel(r.Context()), key)
		writeStoreError(w, err, "failed to add photo")
		return
	}

	p.URL = h.objects.URL(p.ObjectKey)
	audit.Record(r.Context(), h.audit, audit.ActionListingPhotoAdded, "listing", id, map[string]any{"photo_id": p.ID})
	writeJSON(w, http.StatusCreated, p)
}

// HandleDeletePhoto removes a photo from a listing.
// DELETE /api/v1/listings/{id}/photos/{photoID}
func (h *Handler) HandleDeletePhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var key string
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		key, err = h.store.DeletePhoto(ctx, q, sess.UserID, id, photoID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to delete photo")
		return
	}

	if err := h.objects.Delete(context.WithoutCancel(r.Context()), key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("deleting listing photo object", "key", key, "error", err)
	}
	audit.Record(r.Context(), h.audit, audit.ActionListingPhotoDeleted, "listing", id, map[string]any{"photo_id": photoID})
	w.WriteHeader(http.StatusNoContent)
}

// HandleReorderPhotos sets the display order of a listing's photos.
// PUT /api/v1/listings/{id}/photos/order {"photo_ids": [...]}
func (h *Handler) HandleReorderPhotos(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		PhotoIDs []string `json:"photo_ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	for _, pid := range body.PhotoIDs {
		if _, err := uuid.Parse(pid); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidPhotoOrder.Error()})
			return
		}
	}

	sess := middleware.GetSession(r.Context())
	var photos []Photo
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		photos, err = h.store.ReorderPhotos(ctx, q, sess.UserID, id, body.PhotoIDs)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to reorder photos")
		return
	}

	h.photoURLs(photos)
	audit.Record(r.Context(), h.audit, audit.ActionListingPhotosOrdered, "listing", id, nil)
	writeJSON(w, http.StatusOK, photos)
}

// HandleSearch is the public browse of published listings.
// GET /api/v1/public/listings?city=&max_rent=&min_bedrooms=&limit=&offset=
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := SearchFilter{City: q.Get("city"), Limit: 20}
	ints := []struct {
		name     string
		min, max int64
		set      func(int64)
	}{
		{"max_rent", 1, math.MaxInt64, func(v int64) { f.MaxRent = v }},
		{"min_bedrooms", 0, math.MaxInt32, func(v int64) { f.MinBedrooms = int(v) }},
		{"limit", 1, math.MaxInt64, func(v int64) { f.Limit = int(min(v, 100)) }},
		{"offset", 0, math.MaxInt32, func(v int64) { f.Offset = int(v) }},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < p.min || v > p.max {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + p.name})
			return
		}
		p.set(v)
	}

	var listings []PublicListing
	err := database.WithSession(r.Context(), h.pool, middleware.GetSession(r.Context()), func(ctx context.Context, q database.Querier) error {
		var err error
		listings, err = h.store.Search(ctx, q, f)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to search listings")
		return
	}

	if listings == nil {
		listings = []PublicListing{}
	}
	for i := range listings {
		h.photoURLs(listings[i].Photos)
	}
	writeJSON(w, http.StatusOK, listings)
}

// HandleGetPublic returns one published listing.
// GET /api/v1/public/listings/{id}
func (h *Handler) HandleGetPublic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var l *PublicListing
	err := database.WithSession(r.Context(), h.pool, middleware.GetSession(r.Context()), func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.GetPublished(ctx, q, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get listing")
		return
	}
	h.photoURLs(l.Photos)
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) withPhotoURLs(l *Listing) *Listing {
	h.photoURLs(l.Photos)
	return l
}

func (h *Handler) photoURLs(photos []Photo) {
	for i := range photos {
		photos[i].URL = h.objects.URL(photos[i].ObjectKey)
	}
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrListingNotFound), errors.Is(err, ErrUnitNotFound),
		errors.Is(err, ErrPhotoNotFound), errors.Is(err, ErrInquiryNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidListing), errors.Is(err, ErrInvalidInquiry),
		errors.Is(err, ErrInvalidPhotoOrder), errors.Is(err, ErrTooManyPhotos):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrListingArchived):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case database.IsCheckViolation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid listing values"})
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
