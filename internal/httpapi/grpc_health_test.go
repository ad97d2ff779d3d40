package httpapi

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return conn
}

func waitStatus(t *testing.T, client healthpb.HealthClient, want healthpb.HealthCheckResponse_ServingStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
		cancel()
		if err == nil && resp.GetStatus() == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health status never became %v (last: %v, err: %v)", want, resp.GetStatus(), err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	var down atomic.Bool
	probe := ReadyProbe{Checks: map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error {
			if down.Load() {
				return errors.New("down")
			}
			return nil
		}),
	}}

	hs := NewGRPCHealth()
	conn := startBufGRPC(t, func(s *grpc.Server) { healthpb.RegisterHealthServer(s, hs) })
	client := healthpb.NewHealthClient(conn)

	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		WatchReadiness(ctx, hs, probe, 20*time.Millisecond)
		close(done)
	}()

	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)
	down.Store(true)
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
	down.Store(false)
	waitStatus(t, client, healthpb.HealthCheckResponse_SERVING)

	cancel()
	<-done
	waitStatus(t, client, healthpb.HealthCheckResponse_NOT_SERVING)
}
