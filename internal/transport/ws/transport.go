package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"omnirelay/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var errClosed = errors.New("websocket closed")

type outbound struct {
	data  []byte
	close bool
	code  int
}

// Transport adapts a websocket to relay.Transport. Reads happen on the
// caller's goroutine; all writes go through writePump.
type Transport struct {
	conn    *websocket.Conn
	send    chan outbound
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	doneOnce  sync.Once
}

// NewTransport starts the write pump for conn
func NewTransport(conn *websocket.Conn) *Transport {
	t := &Transport{
		conn:    conn,
		send:    make(chan outbound, sendBufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go t.writePump()
	return t
}

func (t *Transport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &relay.CloseError{Code: ce.Code}
		}
		return nil, err
	}
	return data, nil
}

func (t *Transport) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case t.send <- outbound{data: data}:
		return nil
	case <-t.done:
		return errClosed
	}
}

// Close sends a close frame with code after any queued messages and then
// drops the connection. Only the first call has an effect.
func (t *Transport) Close(code int) error {
	t.closeOnce.Do(func() {
		select {
		case t.send <- outbound{close: true, code: code}:
		case <-t.done:
		}
	})
	return nil
}

// finish flushes queued messages and a close frame, then drops the
// connection
func (t *Transport) finish() {
	t.Close(relay.CloseNormal)
	select {
	case <-t.stopped:
	case <-time.After(writeWait):
	}
	t.shutdown()
}

// shutdown drops the connection without a close frame
func (t *Transport) shutdown() {
	t.doneOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.shutdown()
		close(t.stopped)
	}()

	for {
		select {
		case msg := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.close {
				t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.code, ""))
				return
			}

			w, err := t.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg.data)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-t.done:
			return
		}
	}
}
