package auth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ireside/ireside/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	users map[string]*auth.Identity // by email
	pass  map[string]string
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{users: map[string]*auth.Identity{}, pass: map[string]string{}}
}

func (f *fakeAccounts) SignUp(_ context.Context, p auth.SignUpParams) (*auth.Identity, error) {
	if err := auth.ValidateSignUp(&p); err != nil {
		return nil, err
	}
	if _, ok := f.users[p.Email]; ok {
		return nil, auth.ErrEmailTaken
	}
	id := &auth.Identity{UserID: fmt.Sprintf("user-%d", len(f.users)+1), Role: p.Role, Email: p.Email, DisplayName: p.FullName}
	f.users[p.Email] = id
	f.pass[p.Email] = p.Password
	return id, nil
}

func (f *fakeAccounts) Authenticate(_ context.Context, email, password string) (*auth.Identity, error) {
	id, ok := f.users[email]
	if !ok || f.pass[email] != password {
		return nil, auth.ErrInvalidCredentials
	}
	return id, nil
}

func (f *fakeAccounts) GetIdentity(_ context.Context, userID string) (*auth.Identity, error) {
	for _, id := range f.users {
		if id.UserID == userID {
			return id, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

type fakeFamily struct {
	gen     int
	hash    string
	revoked bool
}

type fakeFamilies struct {
	mu       sync.Mutex
	families map[string]*fakeFamily
}

func newFakeFamilies() *fakeFamilies {
	return &fakeFamilies{families: map[string]*fakeFamily{}}
}

func (f *fakeFamilies) CreateFamilyAndReturnID(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("fam-%d", len(f.families)+1)
	f.families[id] = &fakeFamily{gen: 1, hash: "pending"}
	return id, nil
}

func (f *fakeFamilies) SetInitialTokenHash(_ context.Context, familyID, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.families[familyID].hash = tokenHash
	return nil
}

func (f *fakeFamilies) RotateToken(_ context.Context, familyID, presentedHash string, presentedGeneration int, newTokenHash string) (*auth.TokenFamily, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fam, ok := f.families[familyID]
	if !ok {
		return nil, auth.ErrFamilyNotFound
	}
	if fam.revoked {
		return nil, auth.ErrFamilyRevoked
	}
	if fam.hash != presentedHash || fam.gen != presentedGeneration {
		fam.revoked = true
		return nil, auth.ErrTokenReuse
	}
	fam.gen++
	fam.hash = newTokenHash
	return &auth.TokenFamily{ID: familyID, CurrentGeneration: fam.gen, CurrentTokenHash: newTokenHash}, nil
}

func (f *fakeFamilies) RevokeFamily(_ context.Context, familyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fam, ok := f.families[familyID]
	if !ok || fam.revoked {
		return auth.ErrFamilyNotFound
	}
	fam.revoked = true
	return nil
}

func newTestHandler() (*auth.Handler, *http.ServeMux) {
	h := auth.NewHandler(auth.HandlerConfig{
		TokenSvc: newTestTokenService(),
		Accounts: newFakeAccounts(),
		Families: newFakeFamilies(),
	})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func post(t *testing.T, mux http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

type tokenPair struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	User         *auth.Identity `json:"user"`
}

func decodePair(t *testing.T, w *httptest.ResponseRecorder) tokenPair {
	t.Helper()
	var p tokenPair
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestHandler_SignUp(t *testing.T) {
	_, mux := newTestHandler()

	w := post(t, mux, "/auth/signup", `{"email":"Kofi@Example.com","password":"correct horse","full_name":"Kofi","role":"tenant"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	p := decodePair(t, w)
	assert.NotEmpty(t, p.AccessToken)
	assert.NotEmpty(t, p.RefreshToken)
	assert.Equal(t, "Bearer", p.TokenType)
	assert.Equal(t, "kofi@example.com", p.User.Email)
	assert.Equal(t, auth.RoleTenant, p.User.Role)
}

func TestHandler_SignUp_Validation(t *testing.T) {
	_, mux := newTestHandler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"admin role rejected", `{"email":"a@example.com","password":"longenough","role":"admin"}`, http.StatusBadRequest},
		{"short password", `{"email":"a@example.com","password":"short","role":"tenant"}`, http.StatusBadRequest},
		{"bad email", `{"email":"not-an-email","password":"longenough","role":"tenant"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, mux, "/auth/signup", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestHandler_SignUp_DuplicateEmail(t *testing.T) {
	_, mux := newTestHandler()
	body := `{"email":"dup@example.com","password":"longenough","full_name":"D","role":"landlord"}`

	require.Equal(t, http.StatusCreated, post(t, mux, "/auth/signup", body).Code)
	assert.Equal(t, http.StatusConflict, post(t, mux, "/auth/signup", body).Code)
}

func TestHandler_Login(t *testing.T) {
	_, mux := newTestHandler()
	require.Equal(t, http.StatusCreated,
		post(t, mux, "/auth/signup", `{"email":"l@example.com","password":"longenough","full_name":"L","role":"landlord"}`).Code)

	w := post(t, mux, "/auth/login", `{"email":"l@example.com","password":"longenough"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, auth.RoleLandlord, decodePair(t, w).User.Role)

	for _, body := range []string{
		`{"email":"l@example.com","password":"wrong-password"}`,
		`{"email":"nobody@example.com","password":"longenough"}`,
	} {
		w := post(t, mux, "/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid credentials")
	}
}

func TestHandler_RefreshRotation(t *testing.T) {
	_, mux := newTestHandler()
	first := decodePair(t, post(t, mux, "/auth/signup",
		`{"email":"r@example.com","password":"longenough","full_name":"R","role":"tenant"}`))

	w := post(t, mux, "/auth/token/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decodePair(t, w)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the rotated token revokes the family
	w = post(t, mux, "/auth/token/refresh", `{"refresh_token":"`+first.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "reuse")

	// The newest token is now dead too
	w = post(t, mux, "/auth/token/refresh", `{"refresh_token":"`+second.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_RefreshRejectsAccessToken(t *testing.T) {
	_, mux := newTestHandler()
	p := decodePair(t, post(t, mux, "/auth/signup",
		`{"email":"x@example.com","password":"longenough","full_name":"X","role":"tenant"}`))

	w := post(t, mux, "/auth/token/refresh", `{"refresh_token":"`+p.AccessToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_RefreshToken_InvalidToken(t *testing.T) {
	_, mux := newTestHandler()

	w := post(t, mux, "/auth/token/refresh", `{"refresh_token":"invalid-token"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_Logout(t *testing.T) {
	_, mux := newTestHandler()
	p := decodePair(t, post(t, mux, "/auth/signup",
		`{"email":"o@example.com","password":"longenough","full_name":"O","role":"tenant"}`))

	w := post(t, mux, "/auth/logout", `{"refresh_token":"`+p.RefreshToken+`"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = post(t, mux, "/auth/token/refresh", `{"refresh_token":"`+p.RefreshToken+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
