package ai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ireside/ireside/internal/storage"
)

// HandlerConfig bounds proxied requests.
type HandlerConfig struct {
	MaxPromptBytes int
	MaxImageBytes  int64
	Timeout        time.Duration
}

// Handler proxies prompts from signed-in users to the Generator.
type Handler struct {
	gen Generator
	cfg HandlerConfig
}

func NewHandler(gen Generator, cfg HandlerConfig) *Handler {
	if cfg.MaxPromptBytes <= 0 {
		cfg.MaxPromptBytes = 16 << 10
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 5 << 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Handler{gen: gen, cfg: cfg}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	System string `json:"system"`
	JSON   bool   `json:"json"`
}

// HandleGenerate answers a text prompt. With "json": true the model's JSON
// document is relayed as the response body.
// POST /api/v1/ai/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(2*h.cfg.MaxPromptBytes)+4<<10)
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": ErrPromptTooLarge.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	if len(req.Prompt)+len(req.System) > h.cfg.MaxPromptBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": ErrPromptTooLarge.Error()})
		return
	}

	resp, err := h.generate(r.Context(), Request{System: req.System, Prompt: req.Prompt, JSON: req.JSON})
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	if !req.JSON {
		writeJSON(w, http.StatusOK, map[string]string{"text": resp.Text})
		return
	}
	doc, err := ExtractJSON(resp.Text)
	if err != nil {
		slog.Warn("model returned invalid JSON", "model", resp.Model, "length", len(resp.Text))
		writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// HandleVision answers a prompt about an uploaded image.
// POST /api/v1/ai/vision (multipart fields "image" and "prompt")
func (h *Handler) HandleVision(w http.ResponseWriter, r *http.Request) {
	up, err := storage.ReadImage(w, r, "image", h.cfg.MaxImageBytes)
	if err != nil {
		status, msg := storage.UploadStatus(err)
		writeJSON(w, status, map[string]string{"error": msg})
		return
	}
	prompt := r.FormValue("prompt")
	if strings.TrimSpace(prompt) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	if len(prompt) > h.cfg.MaxPromptBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": ErrPromptTooLarge.Error()})
		return
	}

	resp, err := h.generate(r.Context(), Request{
		Prompt: prompt,
		Images: []Image{{Data: up.Data, MIMEType: up.ContentType}},
	})
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": resp.Text})
}

func (h *Handler) generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := h.gen.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, errors.Join(ErrUpstream, context.DeadlineExceeded)
		}
		return nil, err
	}
	slog.Debug("model call", "model", resp.Model, "images", len(req.Images), "duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// ExtractJSON returns the JSON document in a model reply, dropping a
// surrounding markdown code fence if present.
func ExtractJSON(text string) ([]byte, error) {
	s := strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "```"))
	}
	if s == "" || !json.Valid([]byte(s)) {
		return nil, ErrInvalidJSON
	}
	return []byte(s), nil
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	msg := "language model request failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg = "language model timed out"
	case errors.Is(err, ErrInvalidJSON), errors.Is(err, ErrEmptyResponse):
		msg = err.Error()
	default:
		slog.Error("model call failed", "error", err)
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
