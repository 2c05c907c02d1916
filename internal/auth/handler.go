package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Accounts is the account persistence used by the handler.
type Accounts interface {
	SignUp(ctx context.Context, p SignUpParams) (*Identity, error)
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	GetIdentity(ctx context.Context, userID string) (*Identity, error)
}

// Families is the refresh token family persistence used by the handler.
type Families interface {
	CreateFamilyAndReturnID(ctx context.Context, userID string) (string, error)
	SetInitialTokenHash(ctx context.Context, familyID, tokenHash string) error
	RotateToken(ctx context.Context, familyID, presentedHash string, presentedGeneration int, newTokenHash string) (*TokenFamily, error)
	RevokeFamily(ctx context.Context, familyID string) error
}

// HandlerConfig holds dependencies for the auth handler.
type HandlerConfig struct {
	TokenSvc *TokenService
	Accounts Accounts
	Families Families
}

// Handler handles authentication HTTP endpoints.
type Handler struct {
	tokenSvc *TokenService
	accounts Accounts
	families Families
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		tokenSvc: cfg.TokenSvc,
		accounts: cfg.Accounts,
		families: cfg.Families,
	}
}

// RegisterRoutes registers auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/signup", h.HandleSignUp)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/token/refresh", h.HandleRefresh)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	User         *Identity `json:"user"`
}

// HandleSignUp registers a landlord or tenant and signs them in.
func (h *Handler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if h.accounts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "account store not configured"})
		return
	}

	identity, err := h.accounts.SignUp(r.Context(), SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Role:     req.Role,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword),
			errors.Is(err, ErrPasswordTooLong), errors.Is(err, ErrInvalidRole):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrEmailTaken):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			slog.Error("sign up failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sign up failed"})
		}
		return
	}

	h.issueTokens(r.Context(), w, identity, http.StatusCreated)
}

// HandleLogin exchanges an email and password for a token pair.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if h.accounts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "account store not configured"})
		return
	}

	identity, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		slog.Error("login failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	h.issueTokens(r.Context(), w, identity, http.StatusOK)
}

// HandleRefresh exchanges a refresh token for new access + refresh tokens.
// Presenting a token that was already rotated revokes its whole family.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	presented, ok := h.validateRefresh(w, req.RefreshToken)
	if !ok {
		return
	}

	if h.families == nil || h.accounts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "token store not configured"})
		return
	}

	// Reload so role changes take effect on the next access token.
	identity, err := h.accounts.GetIdentity(r.Context(), presented.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "identity loading failed"})
		return
	}

	next := *identity
	next.FamilyID = presented.FamilyID
	next.Generation = presented.Generation + 1
	refreshToken, err := h.tokenSvc.CreateRefreshToken(&next)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	_, err = h.families.RotateToken(r.Context(), presented.FamilyID, HashToken(req.RefreshToken), presented.Generation, HashToken(refreshToken))
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenReuse):
			slog.Warn("refresh token reuse detected", "user_id", presented.UserID, "family_id", presented.FamilyID)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh token reuse detected"})
		case errors.Is(err, ErrFamilyRevoked), errors.Is(err, ErrFamilyNotFound):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token rotation failed"})
		}
		return
	}

	accessToken, err := h.tokenSvc.CreateAccessToken(identity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokenSvc.AccessTTL().Seconds()),
		User:         identity,
	})
}

// HandleLogout revokes the family of the presented refresh token.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	presented, ok := h.validateRefresh(w, req.RefreshToken)
	if !ok {
		return
	}

	if h.families == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "token store not configured"})
		return
	}

	if err := h.families.RevokeFamily(r.Context(), presented.FamilyID); err != nil && !errors.Is(err, ErrFamilyNotFound) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout failed"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) validateRefresh(w http.ResponseWriter, raw string) (*Identity, bool) {
	presented, err := h.tokenSvc.ValidateToken(raw)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return nil, false
	}
	if presented.TokenType != "refresh" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "refresh token required"})
		return nil, false
	}
	if presented.FamilyID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return nil, false
	}
	return presented, true
}

func (h *Handler) issueTokens(ctx context.Context, w http.ResponseWriter, identity *Identity, status int) {
	accessToken, err := h.tokenSvc.CreateAccessToken(identity)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	if h.families == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "token store not configured"})
		return
	}

	familyID, err := h.families.CreateFamilyAndReturnID(ctx, identity.UserID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	withFamily := *identity
	withFamily.FamilyID = familyID
	withFamily.Generation = 1
	refreshToken, err := h.tokenSvc.CreateRefreshToken(&withFamily)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	if err := h.families.SetInitialTokenHash(ctx, familyID, HashToken(refreshToken)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "token creation failed"})
		return
	}

	writeJSON(w, status, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.tokenSvc.AccessTTL().Seconds()),
		User:         identity,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
