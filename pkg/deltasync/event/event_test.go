package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/deltasync/pkg/deltasync/event"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNew(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	evt := event.New("item.updated", "host", payload{Name: "a", Count: 2},
		event.WithEventID("evt-1"), event.WithTimestamp(ts))

	assert.Equal(t, "evt-1", evt.ID())
	assert.Equal(t, "item.updated", evt.Type())
	assert.Equal(t, "host", evt.Source())
	assert.Equal(t, ts, evt.Timestamp())
	assert.Equal(t, payload{Name: "a", Count: 2}, evt.TypedData())
	assert.JSONEq(t, `{"name":"a","count":2}`, string(evt.DataBytes()))
}

func TestNew_GeneratesIDs(t *testing.T) {
	a := event.New("x", "test", 1)
	b := event.New("x", "test", 1)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.False(t, a.Timestamp().IsZero())
}

func TestTypedHandler(t *testing.T) {
	var got payload
	var meta event.Metadata
	h := event.TypedHandler([]string{"item.updated"}, func(_ context.Context, p payload, m event.Metadata) error {
		got = p
		meta = m
		return nil
	})

	assert.Equal(t, []string{"item.updated"}, h.Handles())

	evt := event.New("item.updated", "host", payload{Name: "a"}, event.WithEventID("id-1"))
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, "id-1", meta.EventID)

	ptr := event.New("item.updated", "host", &payload{Name: "b"})
	require.NoError(t, h.Handle(context.Background(), ptr))
	assert.Equal(t, "b", got.Name)
}

func TestTypedHandler_DecodesForeignPayload(t *testing.T) {
	var got payload
	h := event.TypedHandler([]string{"x"}, func(_ context.Context, p payload, _ event.Metadata) error {
		got = p
		return nil
	})

	evt := event.New("x", "test", map[string]any{"name": "c", "count": 3})
	require.NoError(t, h.Handle(context.Background(), evt))
	assert.Equal(t, payload{Name: "c", Count: 3}, got)

	bad := event.New("x", "test", "not an object")
	err := h.Handle(context.Background(), bad)
	var evtErr *event.EventError
	require.ErrorAs(t, err, &evtErr)
	assert.Contains(t, err.Error(), "unexpected payload type")
}

func TestRouter(t *testing.T) {
	var a, b int
	r := event.NewRouter(
		event.TypedHandler([]string{"a"}, func(context.Context, int, event.Metadata) error { a++; return nil }),
		event.TypedHandler([]string{"b", "a"}, func(context.Context, int, event.Metadata) error { b++; return nil }),
	)

	assert.Equal(t, []string{"a", "b"}, r.Handles())

	ctx := context.Background()
	require.NoError(t, r.Handle(ctx, event.New("a", "test", 1)))
	require.NoError(t, r.Handle(ctx, event.New("b", "test", 1)))
	require.NoError(t, r.Handle(ctx, event.New("c", "test", 1)))

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
