// Package transport delivers notification events to clients over websocket.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/verdant/ordernotify/notify"
)

// ErrConnClosed is returned by Emit once the connection is closed
var ErrConnClosed = errors.New("connection closed")

// Frame is the JSON text frame sent for every event
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is one websocket session. It implements notify.Transport.
type Conn struct {
	ws           *websocket.Conn
	id           string
	recipient    notify.RecipientID
	writeTimeout time.Duration
	connectedAt  time.Time

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	emitted   atomic.Int64
}

func newConn(ws *websocket.Conn, id string, recipient notify.RecipientID, writeTimeout time.Duration) *Conn {
	return &Conn{
		ws:           ws,
		id:           id,
		recipient:    recipient,
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
	}
}

// ID returns the session id
func (c *Conn) ID() string {
	return c.id
}

// Recipient returns the recipient this session was opened for
func (c *Conn) Recipient() notify.RecipientID {
	return c.recipient
}

// Emit writes {"event": event, "data": payload} as one text frame. Writes are
// serialized and bounded by the write timeout.
func (c *Conn) Emit(event string, payload any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event, err)
	}

	c.emitted.Add(1)
	return nil
}

// Close sends a close frame and closes the underlying connection
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}

// SessionInfo describes an open session
type SessionInfo struct {
	ID          string             `json:"id"`
	Recipient   notify.RecipientID `json:"recipient"`
	RemoteAddr  string             `json:"remote_addr"`
	ConnectedAt time.Time          `json:"connected_at"`
	Emitted     int64              `json:"emitted"`
}

func (c *Conn) info() SessionInfo {
	return SessionInfo{
		ID:          c.id,
		Recipient:   c.recipient,
		RemoteAddr:  c.ws.RemoteAddr().String(),
		ConnectedAt: c.connectedAt,
		Emitted:     c.emitted.Load(),
	}
}
