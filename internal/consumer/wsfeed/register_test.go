//go:build test

package wsfeed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/hrmon/internal/hr"
	"github.com/srg/hrmon/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, payloads [][]byte) []Message {
	t.Helper()
	out := make([]Message, 0, len(payloads))
	for _, p := range payloads {
		var m Message
		require.NoError(t, json.Unmarshal(p, &m))
		out = append(out, m)
	}
	return out
}

func TestRegisterJoinsBroadcastBeforeSnapshot(t *testing.T) {
	// GOAL: A client registered during a session ends up with the latest value,
	// including a disconnect that lands right after the handshake
	//
	// TEST SCENARIO: connected store → register → disconnect delivered → queue ends with the disconnect

	logger, _ := test.NewNullLogger()
	store := hr.NewStore()
	store.Set(80, true)
	s := New(store, "127.0.0.1", 0, logger)

	c := &client{id: 1, remote: "test", send: ringchan.New[[]byte](SendBuffer)}
	require.NoError(t, s.register(c))

	_, ok := s.clients.Get(c.id)
	require.True(t, ok, "client MUST be in the broadcast set once registered")

	require.NoError(t, s.Deliver(context.Background(), hr.Update{Event: hr.EventDisconnected, Snapshot: store.Reset()}))

	got := decode(t, c.send.Drain())
	require.Len(t, got, 2)
	assert.Equal(t, Message{HeartRate: 80, Connected: true, Status: "connected"}, got[0], "snapshot MUST be queued first")
	assert.Equal(t, Message{HeartRate: 0, Connected: false, Status: "disconnected"}, got[1], "the disconnect MUST reach the new client")
}

func TestRegisterSnapshotSeesEarlierWrites(t *testing.T) {
	// GOAL: A write that happens before registration is carried by the snapshot
	//
	// TEST SCENARIO: store reset before register → the only queued message is the disconnected value

	logger, _ := test.NewNullLogger()
	store := hr.NewStore()
	store.Set(80, true)
	s := New(store, "127.0.0.1", 0, logger)
	store.Reset()

	c := &client{id: 7, remote: "test", send: ringchan.New[[]byte](SendBuffer)}
	require.NoError(t, s.register(c))

	got := decode(t, c.send.Drain())
	require.Len(t, got, 1)
	assert.False(t, got[0].Connected)
	assert.Equal(t, 1, s.Clients())
}
