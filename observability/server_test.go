//go:build test

package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dsbaars/bunker46/config"
)

func startTestServer(t *testing.T, mutate func(*Server)) *Server {
	t.Helper()

	server := NewServer(zerolog.Nop(), config.ObservabilityConfig{
		MetricsEnabled: true,
		MetricsAddr:    "127.0.0.1:0",
	})
	if mutate != nil {
		mutate(server)
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, server.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = server.Stop()
	})
	return server
}

func get(t *testing.T, server *Server, path string) (*http.Response, string) {
	t.Helper()

	url := fmt.Sprintf("http://%s%s", server.Addr(), path)
	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func TestServerLifecycle(t *testing.T) {
	server := startTestServer(t, nil)
	require.True(t, server.IsRunning())
	require.NoError(t, server.Stop())
	require.False(t, server.IsRunning())
}

func TestHealthEndpoint(t *testing.T) {
	server := startTestServer(t, nil)

	resp, body := get(t, server, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", body)
}

func TestReadyWithoutCheck(t *testing.T) {
	server := startTestServer(t, nil)

	resp, _ := get(t, server, "/ready")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyWithFailingCheck(t *testing.T) {
	server := startTestServer(t, nil)
	server.SetReadinessCheck(func(context.Context) error {
		return errors.New("redis unreachable")
	})

	resp, body := get(t, server, "/ready")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, body, "redis unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	server := startTestServer(t, nil)

	resp, body := get(t, server, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "bunker46_runtime_goroutines")
}

func TestExtraHandlerMounts(t *testing.T) {
	server := startTestServer(t, func(s *Server) {
		s.Handle("/custom", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("custom handler"))
		}))
	})

	resp, body := get(t, server, "/custom")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "custom handler", body)
}
