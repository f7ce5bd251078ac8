// Package provider defines the boundary to the device-protocol layer:
// network scanning, connecting, pairing handshakes and command execution
// against smart-TV-class media devices. Implementations live in
// sub-packages; everything above this package is protocol-agnostic.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Protocol names a device may advertise. Pairing prefers MRP over
// Companion over DMAP because MRP is the most reliable transport on the
// devices that expose several of them.
const (
	ProtocolMRP        = "MRP"
	ProtocolCompanion  = "Companion"
	ProtocolDMAP       = "DMAP"
	ProtocolChromecast = "Chromecast"
	ProtocolDLNA       = "DLNA"
)

// PairingPriority is the fixed selection order used when a caller does not
// name a protocol explicitly.
var PairingPriority = []string{ProtocolMRP, ProtocolCompanion, ProtocolDMAP}

// Service is one advertised protocol endpoint on a discovered device.
// Identifier may differ per protocol on the same physical device.
type Service struct {
	Protocol   string
	Identifier string
}

// DiscoveredDevice is a network-observed device from one scan cycle. It is
// ephemeral: instances are only valid until the next scan replaces the
// discovery cache.
type DiscoveredDevice struct {
	Name       string
	Address    string
	Identifier string
	Services   []Service

	credentials map[string]string
}

// AllIdentifiers returns the device's main identifier plus every
// per-service identifier, deduplicated.
func (d *DiscoveredDevice) AllIdentifiers() []string {
	seen := make(map[string]struct{}, len(d.Services)+1)
	ids := make([]string, 0, len(d.Services)+1)
	if d.Identifier != "" {
		seen[d.Identifier] = struct{}{}
		ids = append(ids, d.Identifier)
	}
	for _, svc := range d.Services {
		if svc.Identifier == "" {
			continue
		}
		if _, ok := seen[svc.Identifier]; ok {
			continue
		}
		seen[svc.Identifier] = struct{}{}
		ids = append(ids, svc.Identifier)
	}
	return ids
}

// HasService reports whether the device advertises the given protocol.
func (d *DiscoveredDevice) HasService(protocol string) bool {
	for _, svc := range d.Services {
		if svc.Protocol == protocol {
			return true
		}
	}
	return false
}

// Protocols returns the advertised protocol names in advertisement order.
func (d *DiscoveredDevice) Protocols() []string {
	protos := make([]string, 0, len(d.Services))
	for _, svc := range d.Services {
		protos = append(protos, svc.Protocol)
	}
	return protos
}

// ApplyCredentials attaches stored credentials to one of the device's
// advertised protocols so a later Connect can authenticate. It fails when
// the device does not advertise the protocol in the current scan cycle.
func (d *DiscoveredDevice) ApplyCredentials(protocol, credentials string) error {
	if !d.HasService(protocol) {
		return fmt.Errorf("device %q does not advertise protocol %s", d.Name, protocol)
	}
	if d.credentials == nil {
		d.credentials = make(map[string]string)
	}
	d.credentials[protocol] = credentials
	return nil
}

// Credentials returns the credentials applied for a protocol, if any.
func (d *DiscoveredDevice) Credentials(protocol string) (string, bool) {
	c, ok := d.credentials[protocol]
	return c, ok
}

// State is the coarse playback state a device reports.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
	StateIdle    State = "idle"
	StateLoading State = "loading"
)

// Playing is one sample of the device's now-playing metadata.
type Playing struct {
	Title       string
	Artist      string
	Album       string
	DeviceState State
}

// Artwork is raw artwork bytes as reported by a device.
type Artwork struct {
	Data     []byte
	MimeType string
}

// App is an installed application on a device.
type App struct {
	BundleID string
	Name     string
}

// Credential is the durable outcome of a completed pairing handshake.
type Credential struct {
	DeviceID    string
	Protocol    string
	Credentials string
}

// PushListener receives asynchronous playback updates from a device.
// Implementations must not block; heavy work belongs on another goroutine.
type PushListener func(Playing)

// Provider performs network discovery and opens connections and pairing
// handshakes. All methods may block on network I/O and honor ctx.
type Provider interface {
	// Scan probes the local network and returns every device observed
	// within the timeout.
	Scan(ctx context.Context, timeout time.Duration) ([]*DiscoveredDevice, error)

	// Connect opens a control session using whatever credentials were
	// applied to the device.
	Connect(ctx context.Context, dev *DiscoveredDevice) (DeviceHandle, error)

	// Pair starts a pairing handshake for one protocol of the device.
	Pair(ctx context.Context, dev *DiscoveredDevice, protocol string) (PairingHandler, error)
}

// PairingHandler drives a single in-flight pairing handshake. Close must
// be safe to call in any state, including after Finish.
type PairingHandler interface {
	Begin(ctx context.Context) error
	Pin(pin string)
	Finish(ctx context.Context) error
	// Credentials is only meaningful after Finish returned nil.
	Credentials() Credential
	Close() error
}

// DeviceHandle is an open control session with one device. A handle is
// owned by exactly one client session and must be closed when that session
// ends.
type DeviceHandle interface {
	// RemoteCommand executes a navigation, playback, volume or power
	// command. CmdPowerToggle opens the control center when the device is
	// on and powers it on otherwise.
	RemoteCommand(ctx context.Context, cmd RemoteCommand) error

	LaunchApp(ctx context.Context, bundleID string) error
	Apps(ctx context.Context) ([]App, error)

	// Playing fetches the current playback status.
	Playing(ctx context.Context) (Playing, error)
	// Artwork fetches the current artwork, or nil when none is available.
	Artwork(ctx context.Context) (*Artwork, error)
	// ArtworkID is a content-addressed identity for the current artwork,
	// empty when the device does not expose one. It never blocks.
	ArtworkID() string
	// ActiveApp reports the app in the foreground, best effort.
	ActiveApp(ctx context.Context) (*App, error)

	SetPushListener(PushListener)
	StartPush() error
	StopPush()

	Close() error
}
