package httpserve_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/hrmon/internal/httpserve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
}

func TestStartServeStop(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := httpserve.New("probe", "127.0.0.1", 0, okHandler(), logger)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "Start MUST be idempotent")
	assert.True(t, s.Running())
	assert.NotZero(t, s.Port())

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.Running())
	assert.Empty(t, s.Addr())
}

func TestRebindSamePortAfterStop(t *testing.T) {
	// GOAL: Disabling releases the port so re-enabling on the same port succeeds
	//
	// TEST SCENARIO: start on a free port → stop → start a new server on the same port

	logger, _ := test.NewNullLogger()
	first := httpserve.New("first", "127.0.0.1", 0, okHandler(), logger)
	require.NoError(t, first.Start(context.Background()))
	port := first.Port()
	require.NoError(t, first.Stop(context.Background()))

	second := httpserve.New("second", "127.0.0.1", port, okHandler(), logger)
	require.NoError(t, second.Start(context.Background()), "port MUST be free after Stop")
	t.Cleanup(func() { _ = second.Stop(context.Background()) })
	assert.Equal(t, port, second.Port())
}

func TestStartPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	s := httpserve.New("busy", "127.0.0.1", port, okHandler(), nil)
	err = s.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), strconv.Itoa(port))
	assert.False(t, s.Running())
}

func TestStartInvalidPort(t *testing.T) {
	s := httpserve.New("bad", "127.0.0.1", 70000, okHandler(), nil)
	assert.ErrorIs(t, s.Start(context.Background()), httpserve.ErrInvalidPort)
}
