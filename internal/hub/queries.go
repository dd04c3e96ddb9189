package hub

import (
	"time"

	"github.com/driftsync/hub/internal/message"
)

// ConnectionInfo is a point-in-time summary of one connection, safe to
// hand outside the hub
type ConnectionInfo struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Device        message.DeviceInfo `json:"device"`
	RemoteAddr    string             `json:"remote_addr,omitempty"`
	Alive         bool               `json:"alive"`
	ConnectedAt   string             `json:"connected_at"`
	LastHeartbeat string             `json:"last_heartbeat"`
}

func (c *Connection) info() ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionInfo{
		ID:            c.ID,
		UserID:        c.UserID,
		Device:        *c.device,
		RemoteAddr:    c.remoteAddr,
		Alive:         c.alive,
		ConnectedAt:   c.connectedAt.Format(time.RFC3339),
		LastHeartbeat: c.lastBeat.Format(time.RFC3339),
	}
}

// IsUserOnline reports whether the user has at least one live
// connection
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// IsDeviceOnline reports whether the device has a live connection
func (h *Hub) IsDeviceOnline(deviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.byDevice[deviceID]
	return ok && c.IsAlive()
}

// GetOnlineUsers returns every user with at least one live connection
func (h *Hub) GetOnlineUsers() []string {

	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.byUser))
	for userID := range h.byUser {
		users = append(users, userID)
	}
	return users
}

// GetUserConnectionsInfo returns a summary of each of the user's live
// connections
func (h *Hub) GetUserConnectionsInfo(userID string) []ConnectionInfo {

	conns := h.userConns(userID)

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.info())
	}
	return infos
}

// GetConnectionInfo returns a summary of one connection by id
func (h *Hub) GetConnectionInfo(connID string) (ConnectionInfo, error) {

	h.mu.RLock()
	c, ok := h.byID[connID]
	h.mu.RUnlock()

	if !ok {
		return ConnectionInfo{}, ErrConnNotFound
	}
	return c.info(), nil
}

// GetAllConnectionsInfo returns a summary of every live connection; used
// by the status endpoint
func (h *Hub) GetAllConnectionsInfo() []ConnectionInfo {

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.info())
	}
	return infos
}

// GetStats returns a snapshot of the hub's statistics
func (h *Hub) GetStats() Report {
	h.mu.RLock()
	active := len(h.byID)
	h.mu.RUnlock()
	return h.stats.report(active)
}
