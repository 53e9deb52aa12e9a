package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dsbaars/bunker46/logging"
)

// WebSocket keep-alive constants. Long-lived feed connections are health
// checked with ping/pong rather than read/write deadlines alone.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var activityUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The feed is mounted on the ops server, which binds to a trusted
	// interface; browser origin checks add nothing there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ActivitySource is a subscribable stream of activity payloads. Each
// subscriber gets its own channel; cancel releases it.
type ActivitySource interface {
	Subscribe(ctx context.Context) (<-chan string, func())
}

// ActivityFeedHandler streams signing activity to WebSocket clients, one
// JSON payload per message. Slow consumers are disconnected rather than
// allowed to back-pressure the feed.
func ActivityFeedHandler(logger logging.Logger, source ActivitySource) http.Handler {
	logger = logging.ForComponent(logger, logging.ComponentActivityBus)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := activityUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		messages, unsubscribe := source.Subscribe(ctx)

		// Reader goroutine: consume control frames and detect close.
		go logging.RecoverGoRoutine(logger, logging.ComponentActivityBus, func(context.Context) {
			defer cancel()
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(wsPongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})(ctx)

		defer func() {
			cancel()
			unsubscribe()
			_ = conn.Close()
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-messages:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
					logger.Debug().Err(err).Msg("activity feed write failed, dropping client")
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})
}
