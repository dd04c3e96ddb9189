package hub

import (
	"sync"

	"github.com/driftsync/hub/internal/message"
)

// The composition root constructs the hub and injects it where needed;
// the default instance exists only so thin call sites (the HTTP layer's
// notification helpers) do not have to thread the reference through.

var defaultMu sync.Mutex
var defaultHub *Hub
var defaultClosed chan struct{}

// SetDefault installs the hub used by the package-level convenience
// functions; call once from the composition root
func SetDefault(h *Hub) {
	defaultMu.Lock()
	defaultHub = h
	defaultMu.Unlock()
}

// Default returns the hub installed with SetDefault, lazily
// constructing and running one if none was installed
func Default() *Hub {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHub == nil {
		defaultHub = New()
		defaultClosed = make(chan struct{})
		go defaultHub.Run(defaultClosed)
	}
	return defaultHub
}

// NotifyUser sends a notification to every device of one user
func NotifyUser(userID, title, msg, level string) error {
	return Default().SendToUser(userID, message.NewNotification(title, msg, level))
}

// NotifyDevice sends a notification to one device
func NotifyDevice(deviceID, title, msg, level string) error {
	return Default().SendToDevice(deviceID, message.NewNotification(title, msg, level))
}

// NotifyGroup sends a notification to every member of a group
func NotifyGroup(group, title, msg, level string) {
	Default().SendToGroup(group, message.NewNotification(title, msg, level))
}

// NotifyAll sends a notification to every live connection
func NotifyAll(title, msg, level string) {
	Default().Broadcast(message.NewNotification(title, msg, level))
}

// IsOnline reports whether the user has any live connection
func IsOnline(userID string) bool {
	return Default().IsUserOnline(userID)
}
