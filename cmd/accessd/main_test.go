package main

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kompassi.org/internal/access"
	"kompassi.org/internal/app"
	"kompassi.org/internal/config"
	"kompassi.org/internal/events"
	"kompassi.org/internal/httpapi"
	"kompassi.org/internal/obs"
)

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func TestServeGRPCListenFailureShutsDown(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := config.Defaults()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.GRPCAddr = taken.Addr().String()
	cfg.ShutdownTimeout = time.Second

	a, err := app.Assemble(&cfg, access.NewInMemory(), events.Nop{}, nil)
	require.NoError(t, err)
	closed := 0
	a.OnClose(func() error {
		closed++
		return nil
	})
	ready := httpapi.ReadyProbe{Checks: map[string]httpapi.Pinger{"store": okPinger{}}}

	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), &cfg, a, ready, obs.NewLogger(io.Discard, nil))
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "grpc listen")
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after grpc listen failure")
	}
	assert.Equal(t, 1, closed)
}
