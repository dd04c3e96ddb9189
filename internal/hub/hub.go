// Package hub tracks every live client connection and routes messages
// to users, connections, devices, groups, or everyone. All index
// mutation is funnelled through a single event loop so the four routing
// tables can never be observed in an inconsistent intermediate state.
package hub

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/message"
)

// Config holds the tunable parameters shared by the hub and its
// connections. Use this struct to pass configuration as argument during
// testing.
type Config struct {

	// QueueSize is the outbound queue capacity per connection
	QueueSize int

	// SendTimeout bounds how long Send waits for queue space
	SendTimeout time.Duration

	// MaxMessageSize is the largest inbound frame we accept
	MaxMessageSize int64

	// PongWait is the read deadline; refreshed on every pong and
	// heartbeat
	PongWait time.Duration

	// PingInterval is how often the write pump sends a transport ping;
	// must be less than PongWait
	PingInterval time.Duration

	// WriteWait is the write deadline per frame
	WriteWait time.Duration

	// HeartbeatInterval is how often a connection checks its own
	// heartbeat age
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the age at which a silent peer is presumed
	// dead
	HeartbeatTimeout time.Duration

	// SweepEvery is the period of the hub's dead-connection sweep
	SweepEvery time.Duration

	// OnConnect, if set, is called asynchronously after a connection
	// registers
	OnConnect func(*Connection)

	// OnDisconnect, if set, is called asynchronously after a user's
	// connection unregisters
	OnDisconnect func(*Connection)
}

// NewDefaultConfig returns a pointer to a Config struct with default
// parameters
func NewDefaultConfig() *Config {
	return &Config{
		QueueSize:         256,
		SendTimeout:       5 * time.Second,
		MaxMessageSize:    65536,
		PongWait:          60 * time.Second,
		PingInterval:      54 * time.Second,
		WriteWait:         10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		SweepEvery:        30 * time.Second,
	}
}

// WithSendTimeout sets the bound on Send blocking
func (c *Config) WithSendTimeout(d time.Duration) *Config {
	c.SendTimeout = d
	return c
}

// WithQueueSize sets the per-connection outbound queue capacity
func (c *Config) WithQueueSize(n int) *Config {
	c.QueueSize = n
	return c
}

// WithHeartbeat sets the liveness check interval and timeout together
func (c *Config) WithHeartbeat(interval, timeout time.Duration) *Config {
	c.HeartbeatInterval = interval
	c.HeartbeatTimeout = timeout
	return c
}

// WithSweepEvery sets the dead-connection sweep period
func (c *Config) WithSweepEvery(d time.Duration) *Config {
	c.SweepEvery = d
	return c
}

type groupOp struct {
	add    bool
	group  string
	userID string
}

// Hub is the single source of truth for who is connected and how to
// reach them. The run loop is the only writer of the four indices; all
// other goroutines read them under mu.RLock.
type Hub struct {
	config *Config

	mu sync.RWMutex

	// connection id -> connection
	byID map[string]*Connection

	// user id -> connection id -> connection; a user has one entry per
	// live device
	byUser map[string]map[string]*Connection

	// device id -> connection; at most one live connection per device
	byDevice map[string]*Connection

	// group name -> user id set; keyed by user so membership survives
	// reconnects
	groups map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	groupOps   chan groupOp

	// closed when the run loop exits, so senders to the channels above
	// never block against a stopped hub
	done chan struct{}

	stats *Stats
}

// New returns a hub with default configuration
func New() *Hub {
	return NewWithConfig(NewDefaultConfig())
}

// NewWithConfig returns a hub using the supplied configuration
func NewWithConfig(config *Config) *Hub {
	return &Hub{
		config:     config,
		byID:       make(map[string]*Connection),
		byUser:     make(map[string]map[string]*Connection),
		byDevice:   make(map[string]*Connection),
		groups:     make(map[string]map[string]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		groupOps:   make(chan groupOp, 16),
		done:       make(chan struct{}),
		stats:      newStats(),
	}
}

// Register enqueues a connection for registration; fire and forget.
// A no-op once the run loop has stopped.
func (h *Hub) Register(c *Connection) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister enqueues a connection for removal; fire and forget. A
// no-op once the run loop has stopped, so Close never blocks during
// shutdown.
func (h *Hub) Unregister(c *Connection) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run starts the hub's event loop; the caller runs this in its own
// goroutine and closes the closed channel to stop it
func (h *Hub) Run(closed <-chan struct{}) {

	ticker := time.NewTicker(h.config.SweepEvery)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-closed:
			return
		case c := <-h.register:
			h.doRegister(c)
		case c := <-h.unregister:
			h.doUnregister(c)
		case op := <-h.groupOps:
			h.doGroupOp(op)
		case <-ticker.C:
			h.sweep()
		}
	}
}

// doRegister inserts a connection into all three indices, evicting any
// older connection for the same device. Last connect wins so that a
// client reconnecting on a fresh socket is not refused.
func (h *Hub) doRegister(c *Connection) {

	h.mu.Lock()

	deviceID := c.Device().ID

	old, evict := h.byDevice[deviceID]
	evict = evict && old != c

	// insert before evicting so the user never transiently has zero
	// connections, which would purge their group memberships
	h.byID[c.ID] = c

	if _, ok := h.byUser[c.UserID]; !ok {
		h.byUser[c.UserID] = make(map[string]*Connection)
	}
	h.byUser[c.UserID][c.ID] = c

	h.byDevice[deviceID] = c

	// the evicted connection may belong to a different user, whose last
	// connection this could be
	var evictedLast bool
	if evict {
		_, evictedLast = h.removeLocked(old)
	}

	h.mu.Unlock()

	if evict {
		log.WithFields(log.Fields{
			"device_id": deviceID,
			"old_conn":  old.ID,
			"new_conn":  c.ID,
		}).Info("evicted older connection for device")
		go old.Close()

		if evictedLast && h.config.OnDisconnect != nil {
			go h.config.OnDisconnect(old)
		}
	}

	h.stats.connected()

	log.WithFields(log.Fields{
		"conn_id":   c.ID,
		"user_id":   c.UserID,
		"device_id": deviceID,
	}).Info("connection registered")

	if h.config.OnConnect != nil {
		go h.config.OnConnect(c)
	}

	// welcome the new connection without blocking the loop
	go func() {
		if err := c.SendMessage(message.NewConnected(c.ID)); err != nil {
			log.WithFields(log.Fields{"conn_id": c.ID, "error": err.Error()}).Debug("connected message not delivered")
		}
	}()
}

func (h *Hub) doUnregister(c *Connection) {

	h.mu.Lock()
	removed, lastForUser := h.removeLocked(c)
	h.mu.Unlock()

	if !removed {
		return
	}

	log.WithFields(log.Fields{
		"conn_id":   c.ID,
		"user_id":   c.UserID,
		"device_id": c.Device().ID,
	}).Info("connection unregistered")

	if lastForUser && h.config.OnDisconnect != nil {
		go h.config.OnDisconnect(c)
	}
}

// removeLocked takes c out of every index; caller holds mu. Reports
// whether c was present, and whether it was the user's last connection
// (in which case the user is purged from all groups).
func (h *Hub) removeLocked(c *Connection) (removed, lastForUser bool) {

	if _, ok := h.byID[c.ID]; !ok {
		return false, false
	}

	delete(h.byID, c.ID)

	if conns, ok := h.byUser[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
			lastForUser = true
			h.purgeUserFromGroupsLocked(c.UserID)
		}
	}

	// the device index may already point at a newer connection
	if cur, ok := h.byDevice[c.Device().ID]; ok && cur == c {
		delete(h.byDevice, c.Device().ID)
	}

	return true, lastForUser
}

// purgeUserFromGroupsLocked removes a user with no remaining
// connections from every group; caller holds mu
func (h *Hub) purgeUserFromGroupsLocked(userID string) {
	for name, members := range h.groups {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
}

// sweep closes connections that are dead or silent past the heartbeat
// timeout. Second line of defence behind each connection's own check,
// in case a heartbeat goroutine is wedged or a close path is stuck.
func (h *Hub) sweep() {

	var stale []*Connection

	h.mu.RLock()
	for _, c := range h.byID {
		if !c.IsAlive() || c.HeartbeatAge() > h.config.HeartbeatTimeout {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.WithFields(log.Fields{
			"conn_id":       c.ID,
			"user_id":       c.UserID,
			"heartbeat_age": c.HeartbeatAge().String(),
		}).Warn("sweeping dead connection")
		go c.Close()
	}

	h.mu.Lock()
	for name, members := range h.groups {
		if len(members) == 0 {
			delete(h.groups, name)
		}
	}
	h.mu.Unlock()
}

// Shutdown closes every live connection; intended for graceful process
// exit, not steady-state use
func (h *Hub) Shutdown() {

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	log.WithField("connections", len(conns)).Info("hub shutting down")

	for _, c := range conns {
		c.Close()
	}
}
