package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"omnirelay/internal/metrics"
	"omnirelay/internal/relay"
)

// Handler upgrades requests to websockets and runs one relay connection
// per socket
type Handler struct {
	ctx      context.Context
	relay    *relay.Relay
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewHandler creates a new WebSocket handler. Connections end when ctx
// is cancelled; an empty origin list or "*" allows every origin.
func NewHandler(ctx context.Context, r *relay.Relay, allowedOrigins []string) *Handler {
	return &Handler{
		ctx:   ctx,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		log.Printf("WebSocket origin rejected: %s", origin)
		return false
	}
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	t := NewTransport(wsConn)
	defer t.finish()

	metrics.Incr("websockets", 1)
	defer metrics.Decr("websockets", 1)

	h.relay.NewConn(t).Serve(h.ctx)
}

// Wait blocks until every connection has finished its teardown or ctx ends
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
