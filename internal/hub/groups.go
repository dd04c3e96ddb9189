package hub

import (
	log "github.com/sirupsen/logrus"
)

// AddToGroup adds a user to a group; idempotent, fire and forget. The
// mutation happens inside the hub loop like every other index write; a
// no-op once the loop has stopped.
func (h *Hub) AddToGroup(group, userID string) {
	select {
	case h.groupOps <- groupOp{add: true, group: group, userID: userID}:
	case <-h.done:
	}
}

// RemoveFromGroup removes a user from a group; idempotent, fire and
// forget
func (h *Hub) RemoveFromGroup(group, userID string) {
	select {
	case h.groupOps <- groupOp{add: false, group: group, userID: userID}:
	case <-h.done:
	}
}

// doGroupOp applies a group mutation; runs in the hub loop
func (h *Hub) doGroupOp(op groupOp) {

	h.mu.Lock()
	defer h.mu.Unlock()

	if op.add {
		if _, ok := h.groups[op.group]; !ok {
			h.groups[op.group] = make(map[string]bool)
		}
		h.groups[op.group][op.userID] = true
		log.WithFields(log.Fields{"group": op.group, "user_id": op.userID}).Debug("user added to group")
		return
	}

	if members, ok := h.groups[op.group]; ok {
		delete(members, op.userID)
		if len(members) == 0 {
			delete(h.groups, op.group)
		}
	}
}

// GetGroupUsers returns the members of a group
func (h *Hub) GetGroupUsers(group string) []string {

	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.groups[group]))
	for userID := range h.groups[group] {
		users = append(users, userID)
	}
	return users
}
