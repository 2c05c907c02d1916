package property

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
)

// Handler handles property and unit HTTP endpoints for landlords.
type Handler struct {
	pool  *database.Pool
	store *Store
	audit audit.Logger
}

func NewHandler(pool *database.Pool, store *Store, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{pool: pool, store: store, audit: auditLog}
}

// HandleCreateProperty creates a property for the caller.
// POST /api/v1/properties
func (h *Handler) HandleCreateProperty(w http.ResponseWriter, r *http.Request) {
	var in PropertyInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var p *Property
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.CreateProperty(ctx, q, sess.UserID, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to create property")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionPropertyCreated, "property", p.ID, map[string]any{"name": p.Name})
	writeJSON(w, http.StatusCreated, p)
}

// HandleListProperties lists the caller's properties.
// GET /api/v1/properties
func (h *Handler) HandleListProperties(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	var properties []Property
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		properties, err = h.store.ListProperties(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list properties")
		return
	}

	if properties == nil {
		properties = []Property{}
	}
	writeJSON(w, http.StatusOK, properties)
}

// HandleGetProperty returns one of the caller's properties.
// GET /api/v1/properties/{id}
func (h *Handler) HandleGetProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var p *Property
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.GetProperty(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get property")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdateProperty updates one of the caller's properties.
// PATCH /api/v1/properties/{id}
func (h *Handler) HandleUpdateProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in PropertyInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var p *Property
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.UpdateProperty(ctx, q, sess.UserID, id, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update property")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionPropertyUpdated, "property", p.ID, nil)
	writeJSON(w, http.StatusOK, p)
}

// HandleDeleteProperty deletes one of the caller's properties.
// DELETE /api/v1/properties/{id}
func (h *Handler) HandleDeleteProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		return h.store.DeleteProperty(ctx, q, sess.UserID, id)
	})
	if err != nil {
		writeStoreError(w, err, "failed to delete property")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionPropertyDeleted, "property", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateUnit adds a unit to one of the caller's properties.
// POST /api/v1/properties/{id}/units
func (h *Handler) HandleCreateUnit(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in UnitInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var u *Unit
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		u, err = h.store.CreateUnit(ctx, q, sess.UserID, propertyID, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to create unit")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionUnitCreated, "unit", u.ID,
		map[string]any{"property_id": propertyID, "label": u.Label})
	writeJSON(w, http.StatusCreated, u)
}

// HandleListUnits lists the units of one of the caller's properties.
// GET /api/v1/properties/{id}/units
func (h *Handler) HandleListUnits(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var units []Unit
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		units, err = h.store.ListUnits(ctx, q, sess.UserID, propertyID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list units")
		return
	}

	if units == nil {
		units = []Unit{}
	}
	writeJSON(w, http.StatusOK, units)
}

// HandleGetUnit returns one of the caller's units.
// GET /api/v1/units/{id}
func (h *Handler) HandleGetUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var u *Unit
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		u, err = h.store.GetUnit(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get unit")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleUpdateUnit updates one of the caller's units.
// PATCH /api/v1/units/{id}
func (h *Handler) HandleUpdateUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in UnitInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var u *Unit
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		u, err = h.store.UpdateUnit(ctx, q, sess.UserID, id, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update unit")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionUnitUpdated, "unit", u.ID, map[string]any{"status": u.Status})
	writeJSON(w, http.StatusOK, u)
}

// HandleDeleteUnit deletes one of the caller's units.
// DELETE /api/v1/units/{id}
func (h *Handler) HandleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		return h.store.DeleteUnit(ctx, q, sess.UserID, id)
	})
	if err != nil {
		writeStoreError(w, err, "failed to delete unit")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionUnitDeleted, "unit", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// HandleListTenants lists tenants holding active leases in a property.
// GET /api/v1/properties/{id}/tenants
func (h *Handler) HandleListTenants(w http.ResponseWriter, r *http.Request) {
	propertyID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var tenants []Tenant
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		tenants, err = h.store.ListTenants(ctx, q, sess.UserID, propertyID)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list tenants")
		return
	}

	if tenants == nil {
		tenants = []Tenant{}
	}
	writeJSON(w, http.StatusOK, tenants)
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrPropertyNotFound), errors.Is(err, ErrUnitNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidProperty), errors.Is(err, ErrInvalidUnit):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrDuplicateUnit), errors.Is(err, ErrActiveLease), errors.Is(err, ErrLeaseHistory):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
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
