package maintenance_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ireside/ireside/internal/maintenance"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/ireside/ireside/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticketEnv struct {
	handler  *maintenance.Handler
	objects  *storage.FSStore
	super    *database.Pool
	owner    dbtest.Portfolio
	tenantID string
	otherID  string
}

func setupTickets(t *testing.T) ticketEnv {
	t.Helper()
	super, connStr := dbtest.Migrated(t)
	rls := dbtest.RLSPool(t, connStr)
	objects, err := storage.NewFSStore(t.TempDir(), "")
	require.NoError(t, err)

	env := ticketEnv{
		handler:  maintenance.NewHandler(rls, maintenance.NewStore(), objects, notification.NewStore(5), nil),
		objects:  objects,
		super:    super,
		owner:    dbtest.CreatePortfolio(t, super, "lou@example.com", "Austin", 2, 180000),
		tenantID: dbtest.CreateUser(t, super, "tess@example.com", "tenant", "Tess"),
		otherID:  dbtest.CreateUser(t, super, "theo@example.com", "tenant", "Theo"),
	}
	dbtest.CreateActiveLease(t, super, env.owner, env.tenantID)
	return env
}

func do(t *testing.T, fn http.HandlerFunc, req *http.Request, userID, role string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	fn(w, dbtest.AsUser(req, userID, role))
	return w
}

func jsonRequest(method, body string) *http.Request {
	return httptest.NewRequest(method, "/", strings.NewReader(body))
}

func decodeTicket(t *testing.T, w *httptest.ResponseRecorder) maintenance.Ticket {
	t.Helper()
	var tk maintenance.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tk), w.Body.String())
	return tk
}

func (env ticketEnv) notifications(t *testing.T, userID, kind string) int {
	t.Helper()
	var n int
	require.NoError(t, env.super.QueryRow(context.Background(),
		"SELECT count(*) FROM notifications WHERE user_id = $1 AND kind = $2", userID, kind).Scan(&n))
	return n
}

func (env ticketEnv) open(t *testing.T) maintenance.Ticket {
	t.Helper()
	w := do(t, env.handler.HandleOpen,
		jsonRequest("POST", `{"unit_id":"`+env.owner.UnitID+`","title":"Leaking tap","category":"Plumbing","priority":"high"}`),
		env.tenantID, "tenant", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeTicket(t, w)
}

func update(t *testing.T, env ticketEnv, id string, version int, fields, userID, role string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"version":` + strconv.Itoa(version)
	if fields != "" {
		body += "," + fields
	}
	body += "}"
	return do(t, env.handler.HandleUpdate, jsonRequest("PATCH", body), userID, role, map[string]string{"id": id})
}

func TestHandler_OpenTicket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	env := setupTickets(t)
	h := env.handler

	tk := env.open(t)
	assert.Equal(t, maintenance.StatusOpen, tk.Status)
	assert.Equal(t, "plumbing", tk.Category)
	assert.Equal(t, maintenance.PriorityHigh, tk.Priority)
	assert.Equal(t, 1, tk.Version)
	assert.Equal(t, env.owner.LandlordID, tk.LandlordID)
	assert.Equal(t, env.owner.PropertyID, tk.PropertyID)
	assert.Equal(t, env.tenantID, tk.OpenedBy)
	require.NotNil(t, tk.TenantID)
	assert.Equal(t, env.tenantID, *tk.TenantID)
	assert.Equal(t, 1, env.notifications(t, env.owner.LandlordID, notification.KindTicketOpened))

	w := do(t, h.HandleOpen, jsonRequest("POST", `{"unit_id":"`+env.owner.UnitID+`","title":"Not my unit"}`),
		env.otherID, "tenant", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "tenants need an active lease on the unit")

	w = do(t, h.HandleOpen, jsonRequest("POST", `{"unit_id":"`+env.owner.UnitID+`","title":"Smoke alarm check"}`),
		env.owner.LandlordID, "landlord", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	byLandlord := decodeTicket(t, w)
	require.NotNil(t, byLandlord.TenantID, "the current tenant joins a landlord ticket")
	assert.Equal(t, env.tenantID, *byLandlord.TenantID)
	assert.Equal(t, 1, env.notifications(t, env.tenantID, notification.KindTicketOpened))

	stranger := dbtest.CreatePortfolio(t, env.super, "sam@example.com", "Austin", 1, 100000)
	w = do(t, h.HandleOpen, jsonRequest("POST", `{"unit_id":"`+stranger.UnitID+`","title":"Hmm"}`),
		env.owner.LandlordID, "landlord", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h.HandleOpen, jsonRequest("POST", `{"unit_id":"`+env.owner.UnitID+`","title":"x","priority":"asap"}`),
		env.tenantID, "tenant", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	t.Run("list", func(t *testing.T) {
		w := do(t, h.HandleList, httptest.NewRequest("GET", "/?priority=high", nil), env.owner.LandlordID, "landlord", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var tickets []maintenance.Ticket
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
		require.Len(t, tickets, 1)
		assert.Equal(t, tk.ID, tickets[0].ID)

		w = do(t, h.HandleList, httptest.NewRequest("GET", "/", nil), env.tenantID, "tenant", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
		assert.Len(t, tickets, 2)

		w = do(t, h.HandleList, httptest.NewRequest("GET", "/", nil), env.otherID, "tenant", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())

		w = do(t, h.HandleList, httptest.NewRequest("GET", "/?status=done", nil), env.tenantID, "tenant", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_StatusFlowAndVersions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	env := setupTickets(t)
	tk := env.open(t)
	landlord, tenant := env.owner.LandlordID, env.tenantID

	w := update(t, env, tk.ID, 1, `"status":"in_progress"`, tenant, "tenant")
	assert.Equal(t, http.StatusForbidden, w.Code, "tenants do not drive the workflow")

	w = update(t, env, tk.ID, 1, `"status":"resolved"`, landlord, "landlord")
	assert.Equal(t, http.StatusConflict, w.Code, "open cannot jump to resolved")

	w = update(t, env, tk.ID, 1, `"status":"in_progress"`, landlord, "landlord")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tk = decodeTicket(t, w)
	assert.Equal(t, maintenance.StatusInProgress, tk.Status)
	assert.Equal(t, 2, tk.Version)
	assert.Equal(t, 1, env.notifications(t, tenant, notification.KindTicketUpdated))

	// A stale write gets the stored ticket back.
	w = update(t, env, tk.ID, 1, `"priority":"urgent"`, landlord, "landlord")
	require.Equal(t, http.StatusConflict, w.Code)
	var conflict struct {
		Error  string             `json:"error"`
		Ticket maintenance.Ticket `json:"ticket"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Equal(t, 2, conflict.Ticket.Version)
	assert.Equal(t, maintenance.StatusInProgress, conflict.Ticket.Status)
	assert.Equal(t, maintenance.PriorityHigh, conflict.Ticket.Priority)

	w = update(t, env, tk.ID, 2, `"title":"Tap fixed?"`, tenant, "tenant")
	assert.Equal(t, http.StatusForbidden, w.Code, "tenant edits are limited to open tickets")

	w = update(t, env, tk.ID, 2, `"status":"resolved"`, landlord, "landlord")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tk = decodeTicket(t, w)
	assert.NotNil(t, tk.ResolvedAt)

	w = update(t, env, tk.ID, 3, `"status":"in_progress"`, landlord, "landlord")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tk = decodeTicket(t, w)
	assert.Nil(t, tk.ResolvedAt, "reopening clears the resolution")

	w = update(t, env, tk.ID, 4, `"status":"resolved"`, landlord, "landlord")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = update(t, env, tk.ID, 5, `"status":"closed"`, tenant, "tenant")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tk = decodeTicket(t, w)
	assert.Equal(t, maintenance.StatusClosed, tk.Status)
	assert.NotNil(t, tk.ClosedAt)
	assert.Equal(t, 6, tk.Version)
	assert.Equal(t, 1, env.notifications(t, landlord, notification.KindTicketUpdated))

	w = update(t, env, tk.ID, 6, `"status":"in_progress"`, landlord, "landlord")
	assert.Equal(t, http.StatusConflict, w.Code, "closed is final")

	w = update(t, env, tk.ID, 6, `"priority":"low"`, env.otherID, "tenant")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CommentsAndPhotos(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	env := setupTickets(t)
	h := env.handler
	tk := env.open(t)
	path := map[string]string{"id": tk.ID}

	w := do(t, h.HandleAddComment, jsonRequest("POST", `{"body":"  Dripping all night  "}`), env.tenantID, "tenant", path)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c maintenance.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "Dripping all night", c.Body)
	assert.Equal(t, "Tess", c.AuthorName)

	w = do(t, h.HandleAddComment, jsonRequest("POST", `{"body":"Plumber booked for Friday"}`), env.owner.LandlordID, "landlord", path)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 1, env.notifications(t, env.owner.LandlordID, notification.KindTicketComment))
	assert.Equal(t, 1, env.notifications(t, env.tenantID, notification.KindTicketComment))

	w = do(t, h.HandleAddComment, jsonRequest("POST", `{"body":"   "}`), env.tenantID, "tenant", path)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h.HandleAddComment, jsonRequest("POST", `{"body":"hi"}`), env.otherID, "tenant", path)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := dbtest.MultipartRequest(t, "POST", "/", "photo", dbtest.PNG(t, 64, 64), nil)
	w = do(t, h.HandleUploadPhoto, req, env.tenantID, "tenant", path)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p maintenance.Photo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "image/png", p.ContentType)
	assert.Equal(t, maintenance.PhotoURL(tk.ID, p.ID), p.URL)

	req = dbtest.MultipartRequest(t, "POST", "/", "photo", []byte("just text"), nil)
	w = do(t, h.HandleUploadPhoto, req, env.tenantID, "tenant", path)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	req = dbtest.MultipartRequest(t, "POST", "/", "photo", dbtest.PNG(t, 8, 8), nil)
	w = do(t, h.HandleUploadPhoto, req, env.otherID, "tenant", path)
	assert.Equal(t, http.StatusNotFound, w.Code)

	photoPath := map[string]string{"id": tk.ID, "photoID": p.ID}
	w = do(t, h.HandlePhoto, httptest.NewRequest("GET", "/", nil), env.owner.LandlordID, "landlord", photoPath)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = do(t, h.HandlePhoto, httptest.NewRequest("GET", "/", nil), env.otherID, "tenant", photoPath)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h.HandleGet, httptest.NewRequest("GET", "/", nil), env.owner.LandlordID, "landlord", path)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		maintenance.Ticket
		Comments []maintenance.Comment `json:"comments"`
		Photos   []maintenance.Photo   `json:"photos"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, tk.ID, detail.ID)
	require.Len(t, detail.Comments, 2)
	assert.Equal(t, "Dripping all night", detail.Comments[0].Body)
	require.Len(t, detail.Photos, 1)
	assert.Equal(t, p.ID, detail.Photos[0].ID)

	w = do(t, h.HandleListComments, httptest.NewRequest("GET", "/", nil), env.tenantID, "tenant", path)
	require.Equal(t, http.StatusOK, w.Code)
	var comments []maintenance.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comments))
	assert.Len(t, comments, 2)
}
