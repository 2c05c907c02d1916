package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/ireside/ireside/internal/auth"
)

// HandlerConfig controls websocket behaviour.
type HandlerConfig struct {
	AllowedOrigins []string
	IdleTimeout    time.Duration
	ReadLimit      int64
}

// Handler upgrades authenticated requests to websocket event streams.
type Handler struct {
	hub         *Hub
	tokens      *auth.TokenService
	devIdentity *auth.Identity
	cfg         HandlerConfig
}

func NewHandler(hub *Hub, tokens *auth.TokenService, devIdentity *auth.Identity, cfg HandlerConfig) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4 << 10
	}
	return &Handler{hub: hub, tokens: tokens, devIdentity: devIdentity, cfg: cfg}
}

// wsClientMessage is the JSON shape clients send over the websocket.
type wsClientMessage struct {
	Type string `json:"type"`
}

// wsServerMessage is the JSON shape the server sends to clients.
type wsServerMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Event  *Event `json:"event,omitempty"`
}

// HandleWebSocket streams events addressed to the caller.
// GET /api/v1/realtime?access_token=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on the upgrade request.
	rawToken := r.URL.Query().Get("access_token")
	if rawToken == "" {
		http.Error(w, `{"error":"missing access_token"}`, http.StatusUnauthorized)
		return
	}
	identity, err := auth.AuthenticateToken(h.tokens, h.devIdentity, rawToken)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	acceptOpts := &websocket.AcceptOptions{}
	if len(h.cfg.AllowedOrigins) > 0 {
		acceptOpts.OriginPatterns = h.cfg.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(h.cfg.ReadLimit)

	// Long-lived connection: lift the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := h.hub.Register(identity.UserID)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := wsjson.Write(ctx, conn, wsServerMessage{Type: "ready", UserID: identity.UserID}); err != nil {
		return
	}

	go h.readLoop(ctx, cancel, conn)

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-client.Events():
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "client too slow")
				return
			}
			if err := wsjson.Write(ctx, conn, wsServerMessage{Type: "event", Event: &e}); err != nil {
				return
			}
		}
	}
}

// readLoop answers pings and enforces the idle timeout. Any read error ends
// the connection.
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		readCtx, readCancel := context.WithTimeout(ctx, h.cfg.IdleTimeout)
		var msg wsClientMessage
		err := wsjson.Read(readCtx, conn, &msg)
		readCancel()
		if err != nil {
			return
		}
		if msg.Type == "ping" {
			if err := wsjson.Write(ctx, conn, wsServerMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}
