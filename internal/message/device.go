package message

import (
	"github.com/google/uuid"
)

// DeviceType enumerates the client platforms we track
type DeviceType string

// Device types
const (
	DeviceUnknown DeviceType = "unknown"
	DeviceWeb     DeviceType = "web"
	DeviceAndroid DeviceType = "android"
	DeviceIOS     DeviceType = "ios"
	DeviceWindows DeviceType = "windows"
	DeviceMacOS   DeviceType = "macos"
	DeviceLinux   DeviceType = "linux"
	DeviceServer  DeviceType = "server"
)

// Status represents device presence
type Status string

// Device statuses
const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// DeviceInfo describes one client installation. Supplied by the
// transport layer at connect time; owned by exactly one connection,
// which is the only mutator after that.
type DeviceInfo struct {
	ID         string            `json:"id"`
	Type       DeviceType        `json:"type"`
	Name       string            `json:"name,omitempty"`
	Status     Status            `json:"status"`
	Platform   string            `json:"platform,omitempty"`
	AppVersion string            `json:"app_version,omitempty"`
	PushToken  string            `json:"push_token,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// NewDeviceInfo returns device info with status online, generating an
// ID if the caller did not supply one
func NewDeviceInfo(id string, deviceType DeviceType, name, platform, appVersion string) *DeviceInfo {
	if id == "" {
		id = uuid.New().String()
	}
	if deviceType == "" {
		deviceType = DeviceUnknown
	}
	return &DeviceInfo{
		ID:         id,
		Type:       deviceType,
		Name:       name,
		Status:     StatusOnline,
		Platform:   platform,
		AppVersion: appVersion,
	}
}

// ParseDeviceType maps a connect-time parameter to a known device type
func ParseDeviceType(s string) DeviceType {
	switch DeviceType(s) {
	case DeviceWeb, DeviceAndroid, DeviceIOS, DeviceWindows, DeviceMacOS, DeviceLinux, DeviceServer:
		return DeviceType(s)
	default:
		return DeviceUnknown
	}
}
