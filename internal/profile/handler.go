package profile

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
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/storage"
)

const maxAvatarBytes = 5 << 20

// SessionRevoker ends a user's refresh token families so a role change takes
// effect at the next refresh.
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) error
}

// Handler handles profile HTTP endpoints.
type Handler struct {
	pool     *database.Pool
	store    *Store
	objects  storage.Store
	sessions SessionRevoker
	audit    audit.Logger
}

func NewHandler(pool *database.Pool, store *Store, objects storage.Store, sessions SessionRevoker, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{pool: pool, store: store, objects: objects, sessions: sessions, audit: auditLog}
}

func (h *Handler) withAvatarURL(p *Profile) *Profile {
	if p.AvatarKey != "" && h.objects != nil {
		p.AvatarURL = h.objects.URL(p.AvatarKey)
	}
	return p
}

// HandleGetMe returns the caller's profile.
// GET /api/v1/me
func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())

	var p *Profile
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.Get(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get profile"})
		return
	}

	writeJSON(w, http.StatusOK, h.withAvatarURL(p))
}

// HandleUpdateMe updates the caller's name and phone.
// PATCH /api/v1/me
func (h *Handler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, ok := raw["role"]; ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": ErrOwnRole.Error()})
		return
	}

	var params UpdateParams
	for field, dst := range map[string]**string{"full_name": &params.FullName, "phone": &params.Phone} {
		v, ok := raw[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": field + " must be a string"})
			return
		}
		*dst = &s
	}
	if err := params.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var p *Profile
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		p, err = h.store.Update(ctx, q, sess.UserID, params)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update profile"})
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionProfileUpdated, "profile", p.ID, nil)
	writeJSON(w, http.StatusOK, h.withAvatarURL(p))
}

// HandleUploadAvatar replaces the caller's avatar image.
// PUT /api/v1/me/avatar (multipart field "avatar")
func (h *Handler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	up, err := storage.ReadImage(w, r, "avatar", maxAvatarBytes)
	if err != nil {
		status, msg := storage.UploadStatus(err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}

	sess := middleware.GetSession(r.Context())
	key := "avatars/" + sess.UserID + "/" + uuid.NewString() + up.Ext
	if err := h.objects.Put(r.Context(), key, up.ContentType, bytes.NewReader(up.Data)); err != nil {
		slog.Error("storing avatar", "user_id", sess.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store avatar"})
		return
	}

	var (
		previous string
		p        *Profile
	)
	err = database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		previous, err = h.store.SetAvatar(ctx, q, sess.UserID, key)
		if err != nil {
			return err
		}
		p, err = h.store.Get(ctx, q, sess.UserID)
		return err
	})
	if err != nil {
		_ = h.objects.Delete(context.WithoutCancel(r.Context()), key)
		if errors.Is(err, ErrProfileNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update avatar"})
		return
	}

	if previous != "" {
		if err := h.objects.Delete(context.WithoutCancel(r.Context()), previous); err != nil && !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("deleting previous avatar", "key", previous, "error", err)
		}
	}

	audit.Record(r.Context(), h.audit, audit.ActionProfileUpdated, "profile", p.ID, map[string]any{"avatar": true})
	writeJSON(w, http.StatusOK, h.withAvatarURL(p))
}

// HandleAdminList lists profiles for administrators.
// GET /api/v1/admin/profiles?role=tenant&limit=50&offset=0
func (h *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !ValidRole(role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidRole.Error()})
		return
	}
	limit, offset, ok := pageParams(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit or offset"})
		return
	}

	var profiles []Profile
	err := database.WithSession(r.Context(), h.pool, middleware.GetSession(r.Context()), func(ctx context.Context, q database.Querier) error {
		var err error
		profiles, err = h.store.List(ctx, q, role, limit, offset)
		return err
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list profiles"})
		return
	}

	if profiles == nil {
		profiles = []Profile{}
	}
	for i := range profiles {
		h.withAvatarURL(&profiles[i])
	}
	writeJSON(w, http.StatusOK, profiles)
}

// HandleAdminSetRole changes another user's role.
// PUT /api/v1/admin/profiles/{id}/role
func (h *Handler) HandleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile id"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !ValidRole(req.Role) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrInvalidRole.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	if id == sess.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": ErrOwnRole.Error()})
		return
	}

	var (
		before string
		p      *Profile
	)
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		current, err := h.store.Get(ctx, q, id)
		if err != nil {
			return err
		}
		before = current.Role
		p, err = h.store.SetRole(ctx, q, id, req.Role)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "profile not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set role"})
		return
	}

	if h.sessions != nil && before != p.Role {
		if err := h.sessions.RevokeAllForUser(r.Context(), id); err != nil {
			slog.Warn("revoking sessions after role change", "user_id", id, "error", err)
		}
	}

	audit.Record(r.Context(), h.audit, audit.ActionProfileRoleChanged, "profile", p.ID,
		map[string]any{"from": before, "to": p.Role})
	writeJSON(w, http.StatusOK, h.withAvatarURL(p))
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
