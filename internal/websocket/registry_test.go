package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anonchat/pkg/interfaces"
	"anonchat/pkg/types"
)

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)

	raw, _ := echoPeer(t)
	conn := NewConnection(raw, 0)
	defer func() { _ = conn.Close() }()
	assert.ErrorIs(t, r.Register(conn), ErrInvalidUser)
	assert.Zero(t, r.Count())
}

func TestRegistry_ReplacementClosesOldConnection(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	rawOld, _ := echoPeer(t)
	old := NewConnection(rawOld, 7)
	rawNew, _ := echoPeer(t)
	fresh := NewConnection(rawNew, 7)
	defer func() { _ = fresh.Close() }()

	require.NoError(t, r.Register(old))
	require.NoError(t, r.Register(fresh))

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, r.Count())

	select {
	case <-old.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("replaced connection was not closed")
	}

	assert.False(t, r.Unregister(old), "stale connection must not remove the new one")
	assert.True(t, r.Unregister(fresh))
	assert.False(t, r.Unregister(fresh))
	assert.Zero(t, r.Count())
}

func TestRegistry_Send(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(zap.NewNop())

	err := r.Send(ctx, 5, types.NewOutcome(types.OutcomeMatched))
	assert.ErrorIs(t, err, interfaces.ErrUserNotConnected)

	raw, received := echoPeer(t)
	conn := NewConnection(raw, 5)
	defer func() { _ = conn.Close() }()
	require.NoError(t, r.Register(conn))

	require.NoError(t, r.Send(ctx, 5, types.NewOutcome(types.OutcomeMatched)))
	select {
	case data := <-received:
		var env types.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		assert.Equal(t, types.EnvelopeOutcome, env.Type)
		assert.Equal(t, types.OutcomeMatched, env.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, r.Send(cancelled, 5, types.NewOutcome(types.OutcomeMatched)), context.Canceled)
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	const users = 20
	conns := make([]*Connection, users)
	for i := range conns {
		raw, _ := echoPeer(t)
		conns[i] = NewConnection(raw, int64(i+1))
	}

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			assert.NoError(t, r.Register(c))
		}(c)
	}
	wg.Wait()
	assert.Equal(t, users, r.Count())

	r.CloseAll()
	assert.Zero(t, r.Count())
	for _, c := range conns {
		select {
		case <-c.Done():
		default:
			t.Fatalf("connection %d not closed", c.UserID())
		}
	}
}
