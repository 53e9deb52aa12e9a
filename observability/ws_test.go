//go:build test

package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// channelSource is an in-memory ActivitySource for tests.
type channelSource struct {
	ch chan string
}

func (s *channelSource) Subscribe(ctx context.Context) (<-chan string, func()) {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-s.ch:
				if !ok {
					return
				}
				out <- msg
			}
		}
	}()
	return out, func() {}
}

func TestActivityFeedStreamsMessages(t *testing.T) {
	source := &channelSource{ch: make(chan string, 4)}
	server := httptest.NewServer(ActivityFeedHandler(zerolog.Nop(), source))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	source.ch <- `{"type":"signing","method":"ping","result":"APPROVED"}`

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msgType, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, msgType)
	require.Contains(t, string(payload), `"method":"ping"`)
}

func TestActivityFeedClosesWhenSourceEnds(t *testing.T) {
	source := &channelSource{ch: make(chan string)}
	server := httptest.NewServer(ActivityFeedHandler(zerolog.Nop(), source))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	close(source.ch)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "the server should drop the connection when the feed ends")
}
