package ws

import (
	"time"

	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/apps"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/nowplaying"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/registry"
)

// Request is one inbound client command. The field set is the union of
// what the individual commands need; unused fields stay empty.
type Request struct {
	Command  string `json:"command"`
	Address  string `json:"address,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	PIN      string `json:"pin,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	BundleID string `json:"bundle_id,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Outbound event types.
const (
	TypeDiscoveryResults = "discovery_results"
	TypeStatus           = "status"
	TypeError            = "error"
	TypePairingStatus    = "pairing_status"
	TypeNowPlaying       = "now_playing"
	TypeAppList          = "app_list"
	TypeCommandStatus    = "command_status"
)

// Pairing status values carried by PairingStatusEvent.
const (
	PairingStarted   = "started"
	PairingCompleted = "completed"
	PairingFailed    = "failed"
)

// DiscoveryResultsEvent carries the merged device list.
type DiscoveryResultsEvent struct {
	Type      string                `json:"type"`
	Devices   []registry.DeviceView `json:"devices"`
	Timestamp time.Time             `json:"timestamp"`
}

// StatusEvent is a plain informational message.
type StatusEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent reports a failed command. Command echoes the inbound
// command that failed when known.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
}

// PairingStatusEvent tracks a pairing through started, completed or
// failed.
type PairingStatusEvent struct {
	Type     string `json:"type"`
	Status   string `json:"status"`
	Protocol string `json:"protocol,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message,omitempty"`
}

// NowPlayingEvent wraps a reconciled playback update.
type NowPlayingEvent struct {
	Type string `json:"type"`
	nowplaying.Event
}

// AppListEvent carries the merged app listing.
type AppListEvent struct {
	Type string `json:"type"`
	apps.Listing
}

// CommandStatusEvent acknowledges a remote command, including ones
// dispatched without waiting for the device.
type CommandStatusEvent struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}
