package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ireside/ireside/internal/ai"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/concierge"
	"github.com/ireside/ireside/internal/lease"
	"github.com/ireside/ireside/internal/listing"
	"github.com/ireside/ireside/internal/maintenance"
	"github.com/ireside/ireside/internal/messaging"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/profile"
	"github.com/ireside/ireside/internal/property"
	"github.com/ireside/ireside/internal/rbac"
	"github.com/ireside/ireside/internal/realtime"
	"github.com/ireside/ireside/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies holds all injected dependencies for the server. Nil handlers
// leave their routes unregistered.
type Dependencies struct {
	Pool                *pgxpool.Pool
	Auth                *auth.TokenService
	AuthHandler         *auth.Handler
	RBAC                *rbac.Evaluator
	ProfileHandler      *profile.Handler
	PropertyHandler     *property.Handler
	ListingHandler      *listing.Handler
	LeaseHandler        *lease.Handler
	TicketHandler       *maintenance.Handler
	MessageHandler      *messaging.Handler
	NotificationHandler *notification.Handler
	AIHandler           *ai.Handler
	ConciergeHandler    *concierge.Handler
	AuditHandler        *audit.Handler
	MediaHandler        *storage.Handler
	RealtimeHandler     *realtime.Handler
	RBACAuditLogger     rbac.AuditLogger
	DevMode             bool
	DevIdentity         *auth.Identity
	Logger              *slog.Logger
	CORSAllowedOrigins  []string
	Tracing             bool
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	pool         *pgxpool.Pool
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	var devIdentity *auth.Identity
	if deps.DevMode {
		devIdentity = deps.DevIdentity
	}

	// Protected routes require a valid access token.
	protectedMux := http.NewServeMux()
	var protectedHandler http.Handler = middleware.SessionContext(protectedMux)
	if deps.Auth != nil {
		protectedHandler = auth.MiddlewareWithDevMode(deps.Auth, devIdentity)(protectedHandler)
	}

	// Public routes see an identity when a token is sent and run as anon
	// otherwise.
	optional := func(h http.HandlerFunc) http.Handler {
		next := middleware.SessionContext(h)
		if deps.Auth == nil {
			return next
		}
		return auth.OptionalMiddleware(deps.Auth, devIdentity)(next)
	}

	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		protectedMux: protectedMux,
		pool:         deps.Pool,
	}

	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterRoutes(topMux)
	}
	if deps.MediaHandler != nil {
		topMux.HandleFunc("GET /media/{key...}", deps.MediaHandler.HandleGet)
	}
	if deps.RealtimeHandler != nil {
		// Authenticates the access_token query parameter itself.
		topMux.HandleFunc("GET /api/v1/realtime", deps.RealtimeHandler.HandleWebSocket)
	}
	if deps.ListingHandler != nil {
		topMux.Handle("GET /api/v1/public/listings", optional(deps.ListingHandler.HandleSearch))
		topMux.Handle("GET /api/v1/public/listings/{id}", optional(deps.ListingHandler.HandleGetPublic))
		topMux.Handle("POST /api/v1/public/listings/{id}/inquiries", optional(deps.ListingHandler.HandleSubmitInquiry))
	}

	if deps.RBAC != nil {
		var rbacOpts []rbac.MiddlewareOption
		if deps.RBACAuditLogger != nil {
			rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.RBACAuditLogger))
		}
		r := routes{mux: protectedMux, engine: deps.RBAC, opts: rbacOpts}
		r.register(deps)
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}
	if deps.Tracing {
		handler = otelhttp.NewHandler(handler, "ireside.http",
			otelhttp.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/healthz" && r.URL.Path != "/readyz"
			}),
		)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// routes registers permission-guarded handlers on the protected mux.
type routes struct {
	mux    *http.ServeMux
	engine rbac.PolicyEngine
	opts   []rbac.MiddlewareOption
}

func (rt routes) handle(pattern, permission string, h http.HandlerFunc) {
	rt.mux.Handle(pattern, rbac.RequirePermission(rt.engine, permission, rt.opts...)(h))
}

func (rt routes) handleAny(pattern string, permissions []string, h http.HandlerFunc) {
	rt.mux.Handle(pattern, rbac.RequireAnyPermission(rt.engine, permissions, rt.opts...)(h))
}

func (rt routes) register(deps Dependencies) {
	if h := deps.ProfileHandler; h != nil {
		rt.handle("GET /api/v1/me", "profile:read", h.HandleGetMe)
		rt.handle("PATCH /api/v1/me", "profile:write", h.HandleUpdateMe)
		rt.handle("PUT /api/v1/me/avatar", "profile:write", h.HandleUploadAvatar)
		rt.handle("GET /api/v1/admin/profiles", "profiles:admin", h.HandleAdminList)
		rt.handle("PUT /api/v1/admin/profiles/{id}/role", "profiles:admin", h.HandleAdminSetRole)
	}

	if h := deps.PropertyHandler; h != nil {
		rt.handle("POST /api/v1/properties", "properties:write", h.HandleCreateProperty)
		rt.handle("GET /api/v1/properties", "properties:read", h.HandleListProperties)
		rt.handle("GET /api/v1/properties/{id}", "properties:read", h.HandleGetProperty)
		rt.handle("PATCH /api/v1/properties/{id}", "properties:write", h.HandleUpdateProperty)
		rt.handle("DELETE /api/v1/properties/{id}", "properties:write", h.HandleDeleteProperty)
		rt.handle("GET /api/v1/properties/{id}/tenants", "properties:read", h.HandleListTenants)
		rt.handle("POST /api/v1/properties/{id}/units", "units:write", h.HandleCreateUnit)
		rt.handle("GET /api/v1/properties/{id}/units", "units:read", h.HandleListUnits)
		rt.handle("GET /api/v1/units/{id}", "units:read", h.HandleGetUnit)
		rt.handle("PATCH /api/v1/units/{id}", "units:write", h.HandleUpdateUnit)
		rt.handle("DELETE /api/v1/units/{id}", "units:write", h.HandleDeleteUnit)
	}

	if h := deps.ListingHandler; h != nil {
		rt.handle("POST /api/v1/listings", "listings:write", h.HandleCreate)
		rt.handle("GET /api/v1/listings", "listings:write", h.HandleList)
		rt.handle("GET /api/v1/listings/{id}", "listings:write", h.HandleGet)
		rt.handle("PATCH /api/v1/listings/{id}", "listings:write", h.HandleUpdate)
		rt.handle("POST /api/v1/listings/{id}/publish", "listings:write", h.HandlePublish)
		rt.handle("POST /api/v1/listings/{id}/archive", "listings:write", h.HandleArchive)
		rt.handle("POST /api/v1/listings/{id}/photos", "listings:write", h.HandleUploadPhoto)
		rt.handle("DELETE /api/v1/listings/{id}/photos/{photoID}", "listings:write", h.HandleDeletePhoto)
		rt.handle("PUT /api/v1/listings/{id}/photos/order", "listings:write", h.HandleReorderPhotos)
		rt.handle("GET /api/v1/inquiries", "inquiries:manage", h.HandleListInquiries)
		rt.handle("GET /api/v1/inquiries/{id}", "inquiries:manage", h.HandleGetInquiry)
		rt.handle("POST /api/v1/inquiries/{id}/status", "inquiries:manage", h.HandleTransitionInquiry)
	}

	if h := deps.LeaseHandler; h != nil {
		rt.handle("POST /api/v1/leases", "leases:manage", h.HandleCreate)
		rt.handle("POST /api/v1/inquiries/{id}/lease", "leases:manage", h.HandleConvertInquiry)
		rt.handle("GET /api/v1/leases", "leases:read", h.HandleList)
		rt.handle("GET /api/v1/leases/{id}", "leases:read", h.HandleGet)
		rt.handle("PATCH /api/v1/leases/{id}", "leases:manage", h.HandleUpdate)
		rt.handle("POST /api/v1/leases/{id}/send", "leases:manage", h.HandleSend)
		rt.handle("POST /api/v1/leases/{id}/cancel", "leases:manage", h.HandleCancel)
		rt.handle("POST /api/v1/leases/{id}/terminate", "leases:manage", h.HandleTerminate)
		rt.handleAny("POST /api/v1/leases/{id}/sign", []string{"leases:sign", "leases:manage"}, h.HandleSign)
		rt.handle("GET /api/v1/leases/{id}/signature/{party}", "leases:read", h.HandleSignature)
	}

	if h := deps.TicketHandler; h != nil {
		writers := []string{"tickets:create", "tickets:manage"}
		rt.handleAny("POST /api/v1/tickets", writers, h.HandleOpen)
		rt.handle("GET /api/v1/tickets", "tickets:read", h.HandleList)
		rt.handle("GET /api/v1/tickets/{id}", "tickets:read", h.HandleGet)
		rt.handleAny("PATCH /api/v1/tickets/{id}", writers, h.HandleUpdate)
		rt.handle("GET /api/v1/tickets/{id}/comments", "tickets:read", h.HandleListComments)
		rt.handleAny("POST /api/v1/tickets/{id}/comments", writers, h.HandleAddComment)
		rt.handleAny("POST /api/v1/tickets/{id}/photos", writers, h.HandleUploadPhoto)
		rt.handle("GET /api/v1/tickets/{id}/photos/{photoID}", "tickets:read", h.HandlePhoto)
	}

	if h := deps.MessageHandler; h != nil {
		rt.handle("POST /api/v1/conversations", "messages:write", h.HandleStart)
		rt.handle("GET /api/v1/conversations", "messages:read", h.HandleList)
		rt.handle("GET /api/v1/conversations/{id}", "messages:read", h.HandleGet)
		rt.handle("GET /api/v1/conversations/{id}/messages", "messages:read", h.HandleMessages)
		rt.handle("POST /api/v1/conversations/{id}/messages", "messages:write", h.HandleSend)
		rt.handle("POST /api/v1/conversations/{id}/read", "messages:read", h.HandleMarkRead)
	}

	if h := deps.NotificationHandler; h != nil {
		rt.handle("GET /api/v1/notifications", "notifications:read", h.HandleList)
		rt.handle("POST /api/v1/notifications/{id}/read", "notifications:read", h.HandleMarkRead)
		rt.handle("POST /api/v1/notifications/read-all", "notifications:read", h.HandleMarkAllRead)
	}

	if h := deps.AIHandler; h != nil {
		rt.handle("POST /api/v1/ai/generate", "ai:use", h.HandleGenerate)
		rt.handle("POST /api/v1/ai/vision", "ai:use", h.HandleVision)
	}

	if h := deps.ConciergeHandler; h != nil {
		rt.handle("GET /api/v1/properties/{id}/kb", "kb:read", h.HandleListEntries)
		rt.handle("POST /api/v1/properties/{id}/kb", "kb:write", h.HandleCreateEntry)
		rt.handle("GET /api/v1/kb/{id}", "kb:read", h.HandleGetEntry)
		rt.handle("PUT /api/v1/kb/{id}", "kb:write", h.HandleUpdateEntry)
		rt.handle("DELETE /api/v1/kb/{id}", "kb:write", h.HandleDeleteEntry)
		rt.handle("POST /api/v1/concierge/messages", "concierge:chat", h.HandleChat)
		rt.handle("GET /api/v1/concierge/messages", "concierge:chat", h.HandleHistory)
		rt.handle("DELETE /api/v1/concierge/messages", "concierge:chat", h.HandleClearHistory)
	}

	if h := deps.AuditHandler; h != nil {
		rt.handle("GET /api/v1/admin/audit/events", "audit:read", h.HandleListEvents)
	}
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
// Use this to register routes that require authentication.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
