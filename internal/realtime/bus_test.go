package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/ireside/ireside/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewEvent(t *testing.T) {
	e, err := realtime.NewEvent(realtime.TopicMessages, "message.created", []string{"u1"}, map[string]string{"body": "hi"})
	require.NoError(t, err)
	assert.Equal(t, realtime.TopicMessages, e.Topic)
	assert.Equal(t, []string{"u1"}, e.UserIDs)
	assert.JSONEq(t, `{"body":"hi"}`, string(e.Payload))
	assert.WithinDuration(t, time.Now(), e.At, time.Minute)

	_, err = realtime.NewEvent("x", "y", nil, make(chan int))
	assert.Error(t, err)
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bus := realtime.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())

	var got []realtime.Event
	require.NoError(t, bus.Subscribe(ctx, func(e realtime.Event) { got = append(got, e) }))
	assert.Equal(t, 1, bus.Subscribers())

	require.NoError(t, bus.Publish(context.Background(), realtime.Event{Topic: "a", Type: "one"}))
	require.NoError(t, bus.Publish(context.Background(), realtime.Event{Topic: "a", Type: "two"}))
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].Type)
	assert.Equal(t, "two", got[1].Type)

	cancel()
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), realtime.Event{Type: "three"}))
	assert.Len(t, got, 2)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := realtime.NewMemoryBus()
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), realtime.Event{}), realtime.ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(context.Background(), func(realtime.Event) {}), realtime.ErrBusClosed)
}
