package server_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/server"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testParams() server.Params {
	return server.Params{Name: "testservice"}
}

// httpOnly injects an HTTP listener and disables the gRPC listener.
func httpOnly(t *testing.T) (server.Listeners, string) {
	t.Helper()
	t.Setenv("OTPAUTH_GRPC__PORT", "0")
	t.Setenv("OTPAUTH_LOG__FORMAT", "text")
	t.Setenv("OTPAUTH_LOG__LEVEL", "error")
	ln := newTestListener(t)
	return server.Listeners{HTTP: ln}, ln.Addr().String()
}

func TestRunGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ls, addr := httpOnly(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, testParams(), ls)
	}()

	waitForHealthy(t, addr)

	// Trigger shutdown
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown did not complete within budget")
	}
}

func TestRunShutdownCompletesWithinBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ls, addr := httpOnly(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, testParams(), ls)
	}()

	waitForHealthy(t, addr)

	start := time.Now()
	cancel()

	select {
	case <-errCh:
		elapsed := time.Since(start)
		if elapsed > domain.GracefulShutdownTimeout {
			t.Errorf("shutdown took %v, exceeds %v budget", elapsed, domain.GracefulShutdownTimeout)
		}
	case <-time.After(domain.GracefulShutdownTimeout + 5*time.Second):
		t.Fatal("shutdown timed out")
	}
}

func TestHealthCheckReturns503DuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ls, addr := httpOnly(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, testParams(), ls)
	}()

	waitForHealthy(t, addr)

	// Trigger shutdown
	cancel()

	// Health check should return 503 during drain delay (before server stops).
	eventually(t, 2*time.Second, func() bool {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err != nil {
			return false // server may have already stopped
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	})

	<-errCh // wait for clean exit
}

func TestSetupMountsRoutesAndCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ls, addr := httpOnly(t)

	var cleaned atomic.Bool
	p := server.Params{
		Name: "testservice",
		Setup: func(_ context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
			assert.NotNil(t, deps.Config)
			assert.NotNil(t, deps.Logger)
			assert.NotNil(t, deps.GRPCServer)
			deps.Router.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "pong")
			})
			return func(context.Context) error {
				cleaned.Store(true)
				return nil
			}, nil
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, p, ls)
	}()

	waitForHealthy(t, addr)

	resp, err := httpGet(t, fmt.Sprintf("http://%s/ping", addr))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))

	cancel()
	require.NoError(t, <-errCh)
	assert.True(t, cleaned.Load(), "cleanup runs after drain")
}

func TestSetupErrorAbortsStartup(t *testing.T) {
	ls, _ := httpOnly(t)
	defer ls.HTTP.Close()
	setupErr := errors.New("pepper unavailable")

	p := server.Params{
		Name: "testservice",
		Setup: func(context.Context, server.SetupDeps) (func(context.Context) error, error) {
			return nil, setupErr
		},
	}

	err := server.Run(context.Background(), p, ls)

	require.Error(t, err)
	assert.ErrorIs(t, err, setupErr)
}

func TestBindFailureRunsCleanup(t *testing.T) {
	t.Setenv("OTPAUTH_GRPC__PORT", "0")
	t.Setenv("OTPAUTH_LOG__LEVEL", "error")
	taken := newTestListener(t)
	defer taken.Close()
	t.Setenv("OTPAUTH_HTTP__PORT", fmt.Sprint(taken.Addr().(*net.TCPAddr).Port))

	var cleaned atomic.Bool
	p := server.Params{
		Name: "testservice",
		Setup: func(context.Context, server.SetupDeps) (func(context.Context) error, error) {
			return func(context.Context) error {
				cleaned.Store(true)
				return nil
			}, nil
		},
	}

	err := server.Run(context.Background(), p, server.Listeners{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen http")
	assert.True(t, cleaned.Load(), "setup resources are released when binding fails")
}

func TestGRPCHealthServing(t *testing.T) {
	t.Setenv("OTPAUTH_LOG__LEVEL", "error")
	ctx, cancel := context.WithCancel(context.Background())
	httpLn := newTestListener(t)
	grpcLn := newTestListener(t)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx, testParams(), server.Listeners{HTTP: httpLn, GRPC: grpcLn})
	}()

	waitForHealthy(t, httpLn.Addr().String())

	conn, err := grpc.NewClient(grpcLn.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	rpcCtx, rpcCancel := context.WithTimeout(context.Background(), 5*time.Second)
	resp, err := healthpb.NewHealthClient(conn).Check(rpcCtx, &healthpb.HealthCheckRequest{})
	rpcCancel()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	require.NoError(t, conn.Close())

	cancel()
	require.NoError(t, <-errCh)
}

// newTestListener creates a TCP listener on an OS-assigned port.
func newTestListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create test listener: %v", err)
	}
	return ln
}

// waitForHealthy polls the health endpoint until it returns 200.
func waitForHealthy(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := httpGet(t, fmt.Sprintf("http://%s/healthz", addr))
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server at %s not healthy within 5s", addr)
}

// httpGet performs an HTTP GET with a background context (satisfies noctx linter).
func httpGet(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// eventually retries f until it returns true or timeout expires.
func eventually(t *testing.T, timeout time.Duration, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
