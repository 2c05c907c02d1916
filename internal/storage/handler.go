package storage

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// Handler serves public objects (listing photos and avatars) for stores
// without their own public endpoint.
type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// HandleGet streams GET /media/{key...}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if ValidateKey(key) != nil || !IsPublicKey(key) {
		http.NotFound(w, r)
		return
	}
	Serve(w, r, h.store, key)
}

// Serve copies the object at key to w.
func Serve(w http.ResponseWriter, r *http.Request, store Store, key string) {
	obj, err := store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) {
			http.NotFound(w, r)
			return
		}
		slog.Error("opening object", "key", key, "error", err)
		http.Error(w, "storage unavailable", http.StatusBadGateway)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=300")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj); err != nil {
		slog.Warn("streaming object", "key", key, "error", err)
	}
}
