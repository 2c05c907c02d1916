package messaging_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ireside/ireside/internal/messaging"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/database/dbtest"
	"github.com/ireside/ireside/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Publish(_ context.Context, e realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Event(nil), r.events...)
}

type chatEnv struct {
	handler  *messaging.Handler
	events   *recorder
	super    *database.Pool
	owner    dbtest.Portfolio
	tenantID string
	otherID  string
}

func setupChat(t *testing.T) chatEnv {
	t.Helper()
	super, connStr := dbtest.Migrated(t)
	rls := dbtest.RLSPool(t, connStr)
	events := &recorder{}
	return chatEnv{
		handler:  messaging.NewHandler(rls, messaging.NewStore(), notification.NewStore(5), events, nil),
		events:   events,
		super:    super,
		owner:    dbtest.CreatePortfolio(t, super, "lou@example.com", "Austin", 2, 180000),
		tenantID: dbtest.CreateUser(t, super, "tess@example.com", "tenant", "Tess"),
		otherID:  dbtest.CreateUser(t, super, "theo@example.com", "tenant", "Theo"),
	}
}

func do(t *testing.T, fn http.HandlerFunc, method, target, body, userID, role string, pathValues map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	w := httptest.NewRecorder()
	fn(w, dbtest.AsUser(req, userID, role))
	return w
}

func TestHandler_StartConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	env := setupChat(t)
	h := env.handler
	body := `{"participant_id":"` + env.owner.LandlordID + `","subject":"Viewing"}`

	w := do(t, h.HandleStart, "POST", "/", body, env.tenantID, "tenant", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first messaging.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, env.owner.LandlordID, first.LandlordID)
	assert.Equal(t, env.tenantID, first.TenantID)
	assert.Nil(t, first.PropertyID)

	// The landlord starting the same thread gets the existing one.
	w = do(t, h.HandleStart, "POST", "/", `{"participant_id":"`+env.tenantID+`"}`, env.owner.LandlordID, "landlord", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var again messaging.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, first.ID, again.ID)

	w = do(t, h.HandleStart, "POST", "/",
		`{"participant_id":"`+env.tenantID+`","property_id":"`+env.owner.PropertyID+`"}`,
		env.owner.LandlordID, "landlord", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var about messaging.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &about))
	assert.NotEqual(t, first.ID, about.ID)
	require.NotNil(t, about.PropertyID)

	w = do(t, h.HandleStart, "POST", "/", `{"participant_id":"`+env.otherID+`"}`, env.tenantID, "tenant", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "tenants cannot message tenants")

	w = do(t, h.HandleStart, "POST", "/", `{"participant_id":"`+env.tenantID+`"}`, env.tenantID, "tenant", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stranger := dbtest.CreatePortfolio(t, env.super, "sam@example.com", "Austin", 1, 100000)
	w = do(t, h.HandleStart, "POST", "/",
		`{"participant_id":"`+env.tenantID+`","property_id":"`+stranger.PropertyID+`"}`,
		env.owner.LandlordID, "landlord", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, h.HandleGet, "GET", "/", "", env.otherID, "tenant", map[string]string{"id": first.ID})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_MessagesFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	env := setupChat(t)
	h := env.handler
	landlord, tenant := env.owner.LandlordID, env.tenantID

	w := do(t, h.HandleStart, "POST", "/", `{"participant_id":"`+landlord+`"}`, tenant, "tenant", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c messaging.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	path := map[string]string{"id": c.ID}

	var sent []messaging.Message
	for _, text := range []string{"one", "two", "three", "four"} {
		w := do(t, h.HandleSend, "POST", "/", `{"body":"`+text+`"}`, tenant, "tenant", path)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var m messaging.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
		sent = append(sent, m)
	}
	w = do(t, h.HandleSend, "POST", "/", `{"body":"reply"}`, landlord, "landlord", path)
	require.Equal(t, http.StatusCreated, w.Code)

	events := env.events.snapshot()
	require.Len(t, events, 5)
	assert.Equal(t, realtime.TopicMessages, events[0].Topic)
	assert.Equal(t, messaging.EventMessageCreated, events[0].Type)
	assert.Equal(t, []string{landlord}, events[0].UserIDs)
	assert.Equal(t, []string{tenant}, events[4].UserIDs)

	var notified int
	require.NoError(t, env.super.QueryRow(context.Background(),
		"SELECT count(*) FROM notifications WHERE user_id = $1 AND kind = $2",
		landlord, notification.KindMessageReceived).Scan(&notified))
	assert.Equal(t, 4, notified)

	w = do(t, h.HandleSend, "POST", "/", `{"body":"   "}`, tenant, "tenant", path)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h.HandleSend, "POST", "/", `{"body":"hi"}`, env.otherID, "tenant", path)
	assert.Equal(t, http.StatusNotFound, w.Code)

	t.Run("pages backwards", func(t *testing.T) {
		w := do(t, h.HandleMessages, "GET", "/?limit=2", "", landlord, "landlord", path)
		require.Equal(t, http.StatusOK, w.Code)
		var page []messaging.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page, 2)
		assert.Equal(t, "four", page[0].Body)
		assert.Equal(t, "reply", page[1].Body)

		w = do(t, h.HandleMessages, "GET", "/?limit=2&before="+page[0].ID, "", landlord, "landlord", path)
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		require.Len(t, page, 2)
		assert.Equal(t, "two", page[0].Body)
		assert.Equal(t, "three", page[1].Body)

		w = do(t, h.HandleMessages, "GET", "/?before="+c.ID, "", landlord, "landlord", path)
		assert.Equal(t, http.StatusNotFound, w.Code, "cursor must be a message in the conversation")
	})

	t.Run("mark read", func(t *testing.T) {
		w := do(t, h.HandleList, "GET", "/", "", landlord, "landlord", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list []messaging.Conversation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, 4, list[0].UnreadCount)
		assert.NotNil(t, list[0].LastMessageAt)

		w = do(t, h.HandleMarkRead, "POST", "/", `{"message_id":"`+sent[1].ID+`"}`, landlord, "landlord", path)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.JSONEq(t, `{"updated":2}`, w.Body.String())

		events := env.events.snapshot()
		last := events[len(events)-1]
		assert.Equal(t, messaging.EventMessagesRead, last.Type)
		assert.Equal(t, []string{tenant}, last.UserIDs)

		w = do(t, h.HandleGet, "GET", "/", "", landlord, "landlord", path)
		require.Equal(t, http.StatusOK, w.Code)
		var got messaging.Conversation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, 2, got.UnreadCount)

		// The sender's own messages are never marked by themselves.
		w = do(t, h.HandleMarkRead, "POST", "/", `{"message_id":"`+sent[3].ID+`"}`, tenant, "tenant", path)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"updated":0}`, w.Body.String())
	})
}
