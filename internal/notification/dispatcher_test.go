package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutboxStore struct {
	claimBatches   [][]Notification
	claimCalls     int
	recoveredAt    time.Time
	recoveredLimit int

	markSentIDs []string
	markRetry   []retryCall
	markDead    []deadCall
	callOrder   []string
}

type retryCall struct {
	id          string
	nextAttempt time.Time
	lastError   string
}

type deadCall struct {
	id        string
	lastError string
}

func (f *fakeOutboxStore) ClaimPending(_ context.Context, _ database.Querier, _ time.Time, _ int) ([]Notification, error) {
	f.callOrder = append(f.callOrder, "claim")
	if f.claimCalls >= len(f.claimBatches) {
		return nil, nil
	}
	batch := f.claimBatches[f.claimCalls]
	f.claimCalls++
	return batch, nil
}

func (f *fakeOutboxStore) MarkSent(_ context.Context, _ database.Querier, id string) error {
	f.markSentIDs = append(f.markSentIDs, id)
	return nil
}

func (f *fakeOutboxStore) MarkRetry(_ context.Context, _ database.Querier, id string, nextAttempt time.Time, lastError string) error {
	f.markRetry = append(f.markRetry, retryCall{id: id, nextAttempt: nextAttempt, lastError: lastError})
	return nil
}

func (f *fakeOutboxStore) MarkDead(_ context.Context, _ database.Querier, id string, lastError string) error {
	f.markDead = append(f.markDead, deadCall{id: id, lastError: lastError})
	return nil
}

func (f *fakeOutboxStore) RecoverStaleSending(_ context.Context, _ database.Querier, staleBefore time.Time, limit int) (int64, error) {
	f.callOrder = append(f.callOrder, "recover")
	f.recoveredAt = staleBefore
	f.recoveredLimit = limit
	return 0, nil
}

type fakeSender struct {
	sendErr map[string]error
	sentIDs []string
}

func (f *fakeSender) Send(_ context.Context, n Notification) error {
	f.sentIDs = append(f.sentIDs, n.ID)
	return f.sendErr[n.ID]
}

func TestDispatcher_SendsPending(t *testing.T) {
	store := &fakeOutboxStore{claimBatches: [][]Notification{
		{{ID: "n1", MaxAttempts: 5}, {ID: "n2", MaxAttempts: 5}},
		{{ID: "n3", MaxAttempts: 5}},
	}}
	sender := &fakeSender{}

	d := NewDispatcher(store, sender, DispatcherConfig{ClaimBatchSize: 2})
	d.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	processed, err := d.DispatchOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.Equal(t, []string{"n1", "n2", "n3"}, sender.sentIDs)
	assert.Equal(t, []string{"n1", "n2", "n3"}, store.markSentIDs)
	assert.Empty(t, store.markRetry)
	assert.Empty(t, store.markDead)
}

func TestDispatcher_RetriesWithBoundedBackoff(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 9, 10, 0, 0, time.UTC)
	store := &fakeOutboxStore{claimBatches: [][]Notification{{{ID: "n1", AttemptCount: 1, MaxAttempts: 5}}}}
	sender := &fakeSender{sendErr: map[string]error{"n1": errors.New("bus unavailable")}}

	d := NewDispatcher(store, sender, DispatcherConfig{
		MaxAttempts:    5,
		BaseRetryDelay: 10 * time.Second,
		MaxRetryDelay:  60 * time.Second,
		JitterFraction: 0.2,
	})
	d.now = func() time.Time { return fixedNow }
	d.jitter = func() float64 { return 0.5 }

	processed, err := d.DispatchOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	require.Len(t, store.markRetry, 1)
	assert.Equal(t, "bus unavailable", store.markRetry[0].lastError)
	assert.Equal(t, fixedNow.Add(22*time.Second), store.markRetry[0].nextAttempt)
	assert.Empty(t, store.markSentIDs)
}

func TestDispatcher_RetryDelayCapped(t *testing.T) {
	d := NewDispatcher(&fakeOutboxStore{}, &fakeSender{}, DispatcherConfig{
		BaseRetryDelay: 5 * time.Second,
		MaxRetryDelay:  30 * time.Second,
		JitterFraction: 1,
	})
	d.jitter = func() float64 { return 1 }

	assert.Equal(t, 10*time.Second, d.retryDelay(1))
	assert.Equal(t, 20*time.Second, d.retryDelay(2))
	assert.Equal(t, 30*time.Second, d.retryDelay(3))
	assert.Equal(t, 30*time.Second, d.retryDelay(10))
}

func TestDispatcher_DeadAfterMaxAttempts(t *testing.T) {
	store := &fakeOutboxStore{claimBatches: [][]Notification{{{ID: "n1", AttemptCount: 4, MaxAttempts: 5}}}}
	sender := &fakeSender{sendErr: map[string]error{"n1": errors.New("bus unavailable")}}

	processed, err := NewDispatcher(store, sender, DispatcherConfig{}).DispatchOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	require.Len(t, store.markDead, 1)
	assert.Equal(t, deadCall{id: "n1", lastError: "bus unavailable"}, store.markDead[0])
	assert.Empty(t, store.markRetry)
}

func TestDispatcher_PermanentErrorSkipsRetry(t *testing.T) {
	store := &fakeOutboxStore{claimBatches: [][]Notification{{{ID: "n1", MaxAttempts: 5}}}}
	sender := &fakeSender{sendErr: map[string]error{"n1": NewPermanentError(errors.New("bad payload"))}}

	_, err := NewDispatcher(store, sender, DispatcherConfig{}).DispatchOnce(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, store.markDead, 1)
	assert.Empty(t, store.markRetry)
}

func TestDispatcher_RecoversStaleBeforeClaim(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 9, 20, 0, 0, time.UTC)
	store := &fakeOutboxStore{}

	d := NewDispatcher(store, &fakeSender{}, DispatcherConfig{
		ClaimBatchSize:    3,
		RecoveryBatchSize: 7,
		LockTimeout:       45 * time.Second,
	})
	d.now = func() time.Time { return fixedNow }

	processed, err := d.DispatchOnce(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, []string{"recover", "claim"}, store.callOrder)
	assert.Equal(t, fixedNow.Add(-45*time.Second), store.recoveredAt)
	assert.Equal(t, 7, store.recoveredLimit)
}

func TestBusSender_PublishesToRecipient(t *testing.T) {
	bus := realtime.NewMemoryBus()
	hub := realtime.NewHub(2)
	client := hub.Register("user-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bus.Subscribe(ctx, hub.Deliver))

	err := NewBusSender(bus).Send(ctx, Notification{ID: "n1", UserID: "user-1", Kind: KindLeaseSent, Title: "Lease ready"})
	require.NoError(t, err)

	e := <-client.Events()
	assert.Equal(t, realtime.TopicNotifications, e.Topic)
	assert.Equal(t, "notification.created", e.Type)
	assert.Contains(t, string(e.Payload), `"title":"Lease ready"`)
}

func TestPermanentError(t *testing.T) {
	base := errors.New("invalid payload")
	err := NewPermanentError(base)
	assert.True(t, IsPermanentError(err))
	assert.ErrorIs(t, err, base)

	assert.Nil(t, NewPermanentError(nil))
	assert.False(t, IsPermanentError(nil))
	assert.False(t, IsPermanentError(errors.New("temporary")))
	assert.True(t, IsPermanentError(errors.Join(errors.New("ctx"), err)))
}
