package hub

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/driftsync/hub/internal/message"
)

// RouteMessage resolves the message's target to the matching fan-out
// primitive. A missing target means broadcast. Called synchronously
// from the sender's read pump, so ordering from one sender is preserved
// and a slow recipient backpressures only that sender.
func (h *Hub) RouteMessage(from *Connection, m *message.Message) {

	if m.Target == nil {
		h.Broadcast(m)
		return
	}

	switch m.Target.Type {
	case message.TargetUser:
		h.SendToUsers(m.Target.UserIDs, m)
	case message.TargetConn:
		h.SendToConns(m.Target.ConnIDs, m)
	case message.TargetDevice:
		h.SendToDevices(m.Target.DeviceIDs, m)
	case message.TargetGroup:
		for _, g := range m.Target.Groups {
			h.SendToGroup(g, m)
		}
	case message.TargetAll:
		h.Broadcast(m)
	default:
		log.WithFields(log.Fields{
			"conn_id":     from.ID,
			"target_type": string(m.Target.Type),
		}).Debug("message with unknown target type dropped")
	}
}

// SendToUser delivers to every live connection the user has, one per
// device. Returns ErrUserNotFound if none are online.
func (h *Hub) SendToUser(userID string, m *message.Message) error {

	conns := h.userConns(userID)
	if len(conns) == 0 {
		return ErrUserNotFound
	}

	h.fanout(conns, m)
	return nil
}

// SendToUsers delivers to all live connections of all the given users;
// offline users are skipped
func (h *Hub) SendToUsers(userIDs []string, m *message.Message) {

	var conns []*Connection
	for _, id := range userIDs {
		conns = append(conns, h.userConns(id)...)
	}

	h.fanout(conns, m)
}

// SendToConn delivers to a single connection by id
func (h *Hub) SendToConn(connID string, m *message.Message) error {

	h.mu.RLock()
	c, ok := h.byID[connID]
	h.mu.RUnlock()

	if !ok {
		return ErrConnNotFound
	}

	if h.fanout([]*Connection{c}, m) == 0 {
		return ErrConnClosed
	}
	return nil
}

// SendToConns delivers to the given connections; unknown ids are
// skipped
func (h *Hub) SendToConns(connIDs []string, m *message.Message) {

	var conns []*Connection

	h.mu.RLock()
	for _, id := range connIDs {
		if c, ok := h.byID[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.fanout(conns, m)
}

// SendToDevice delivers to the live connection for a device
func (h *Hub) SendToDevice(deviceID string, m *message.Message) error {

	h.mu.RLock()
	c, ok := h.byDevice[deviceID]
	h.mu.RUnlock()

	if !ok {
		return ErrDeviceNotFound
	}

	if h.fanout([]*Connection{c}, m) == 0 {
		return ErrConnClosed
	}
	return nil
}

// SendToDevices delivers to the given devices; unknown ids are skipped
func (h *Hub) SendToDevices(deviceIDs []string, m *message.Message) {

	var conns []*Connection

	h.mu.RLock()
	for _, id := range deviceIDs {
		if c, ok := h.byDevice[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.fanout(conns, m)
}

// SendToGroup delivers to every connection of every member of the group
func (h *Hub) SendToGroup(group string, m *message.Message) {

	var conns []*Connection

	h.mu.RLock()
	for userID := range h.groups[group] {
		for _, c := range h.byUser[userID] {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	h.fanout(conns, m)
}

// Broadcast delivers to every live connection
func (h *Hub) Broadcast(m *message.Message) {

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.fanout(conns, m)
}

func (h *Hub) userConns(userID string) []*Connection {

	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Connection, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	return conns
}

// fanout delivers one message to a set of connections concurrently, one
// goroutine per target joined before returning, so a slow recipient
// cannot delay the others. Per-connection failures are skipped, never
// short-circuited. Returns the number of recipients actually reached.
func (h *Hub) fanout(conns []*Connection, m *message.Message) int {

	if len(conns) == 0 {
		return 0
	}

	data, err := m.Encode()
	if err != nil {
		log.WithField("error", err.Error()).Error("fanout encode failed")
		return 0
	}

	start := time.Now()

	var reached int64
	var wg sync.WaitGroup

	for _, c := range conns {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.Send(data); err != nil {
				log.WithFields(log.Fields{
					"conn_id": c.ID,
					"error":   err.Error(),
				}).Debug("fanout delivery skipped")
				return
			}
			atomic.AddInt64(&reached, 1)
		}(c)
	}

	wg.Wait()

	n := int(atomic.LoadInt64(&reached))
	h.stats.delivered(n, len(data), time.Since(start))

	return n
}
