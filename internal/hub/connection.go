package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/message"
)

// Connection owns one live duplex transport session bound to a user and
// device. Three goroutines service it once started: readPump, writePump
// and checkHeartbeat. Close is safe to call concurrently from any of
// them or from outside.
type Connection struct {

	// ID is unique per connect and never reused
	ID string

	// UserID is the authenticated owner, supplied by the transport layer
	UserID string

	hub *Hub

	// the websocket connection; nil for connections driven directly in
	// tests
	ws *websocket.Conn

	// buffered channel of outbound frames
	send chan []byte

	// done is this connection's cancellation scope; closed exactly once
	done chan struct{}

	closeOnce sync.Once

	remoteAddr string

	connectedAt time.Time

	// mu guards alive, lastBeat, device status and metadata
	mu       sync.RWMutex
	alive    bool
	lastBeat time.Time
	device   *message.DeviceInfo
	metadata map[string]string
}

// NewConnection wraps an upgraded websocket for the given user. A nil
// device gets generated info with a fresh device ID.
func NewConnection(h *Hub, ws *websocket.Conn, userID string, device *message.DeviceInfo, remoteAddr string) *Connection {

	if device == nil {
		device = message.NewDeviceInfo("", message.DeviceUnknown, "", "", "")
	}
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	device.Status = message.StatusOnline

	return &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		hub:         h,
		ws:          ws,
		send:        make(chan []byte, h.config.QueueSize),
		done:        make(chan struct{}),
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		alive:       true,
		lastBeat:    time.Now(),
		device:      device,
		metadata:    make(map[string]string),
	}
}

// Start registers with the hub and launches the read, write and
// heartbeat goroutines. Returns immediately; later failures surface via
// Close.
func (c *Connection) Start() {
	c.hub.Register(c)
	go c.writePump()
	go c.readPump()
	go c.checkHeartbeat()
}

// IsAlive reports whether the connection is still usable
func (c *Connection) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

// Device returns the device info owned by this connection
func (c *Connection) Device() *message.DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.device
}

// ConnectedAt returns when the transport handshake completed
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the client address recorded at connect time
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// HeartbeatAge returns the time since the peer last proved liveness
func (c *Connection) HeartbeatAge() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastBeat)
}

func (c *Connection) touchHeartbeat() {
	c.mu.Lock()
	c.lastBeat = time.Now()
	c.mu.Unlock()
}

// SetMeta stores a metadata value on the connection
func (c *Connection) SetMeta(key, value string) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

// Meta returns a metadata value previously stored with SetMeta
func (c *Connection) Meta(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Send enqueues raw bytes for the write pump. Fails immediately with
// ErrConnClosed on a dead connection and with ErrSendTimeout if the
// queue does not drain within the configured bound; never blocks the
// caller longer than that.
func (c *Connection) Send(data []byte) error {

	if !c.IsAlive() {
		return ErrConnClosed
	}

	timer := time.NewTimer(c.hub.config.SendTimeout)
	defer timer.Stop()

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		return ErrSendTimeout
	}
}

// SendMessage encodes and enqueues a message
func (c *Connection) SendMessage(m *message.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return c.Send(data)
}

// SendJSON marshals v and enqueues it
func (c *Connection) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Close releases the connection exactly once: marks it dead, flips the
// device offline, unregisters from the hub, cancels the pumps and
// closes the socket. Safe to call concurrently and repeatedly.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {

		c.mu.Lock()
		c.alive = false
		c.device.Status = message.StatusOffline
		c.mu.Unlock()

		close(c.done)

		c.hub.Unregister(c)

		if c.ws != nil {
			// best effort close frame; the peer may already be gone
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			if err := c.ws.Close(); err != nil {
				log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Trace("socket close")
			}
		}

		log.WithFields(log.Fields{"conn_id": c.ID, "user_id": c.UserID}).Debug("connection closed")
	})
}
