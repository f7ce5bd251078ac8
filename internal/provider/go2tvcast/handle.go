package go2tvcast

import (
	"context"
	"fmt"
	"strings"

	"go2tv.app/go2tv/v2/castprotocol"

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// castClient is the slice of castprotocol.CastClient the handle needs.
type castClient interface {
	Connect() error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

// Connect opens a cast session to the device. Only devices advertising
// the Chromecast protocol can be connected.
func (p *Provider) Connect(ctx context.Context, dev *provider.DiscoveredDevice) (provider.DeviceHandle, error) {
	if !dev.HasService(provider.ProtocolChromecast) {
		return nil, fmt.Errorf("connecting %s: %w", dev.Address, provider.ErrNoEligibleProtocol)
	}

	client, err := castprotocol.NewCastClient(dev.Address)
	if err != nil {
		return nil, fmt.Errorf("connecting %s: %w: %v", dev.Address, provider.ErrProviderUnavailable, err)
	}
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting %s: %w: %v", dev.Address, provider.ErrHandshakeFailure, err)
	}

	return &handle{client: client, name: dev.Name}, nil
}

// handle adapts one cast session to the generic device handle.
type handle struct {
	client castClient
	name   string
}

func (h *handle) RemoteCommand(ctx context.Context, cmd provider.RemoteCommand) error {
	switch cmd {
	case provider.CmdPowerOff, provider.CmdPowerToggle:
		// Stopping the receiver app is the closest a cast device has
		// to powering off.
		if err := h.client.Stop(); err != nil {
			return fmt.Errorf("stopping cast session: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("cast command %s: %w", cmd, provider.ErrUnsupportedCommand)
	}
}

func (h *handle) LaunchApp(ctx context.Context, bundleID string) error {
	return fmt.Errorf("launching %s: %w", bundleID, provider.ErrUnsupportedCommand)
}

func (h *handle) Apps(ctx context.Context) ([]provider.App, error) {
	return nil, fmt.Errorf("listing apps: %w", provider.ErrUnsupportedCommand)
}

func (h *handle) Playing(ctx context.Context) (provider.Playing, error) {
	status, err := h.client.GetStatus()
	if err != nil || status == nil {
		return provider.Playing{}, fmt.Errorf("cast status: %w: %v", provider.ErrProviderUnavailable, err)
	}
	return provider.Playing{DeviceState: normalizeState(status.PlayerState)}, nil
}

func (h *handle) Artwork(ctx context.Context) (*provider.Artwork, error) {
	return nil, nil
}

func (h *handle) ArtworkID() string { return "" }

func (h *handle) ActiveApp(ctx context.Context) (*provider.App, error) {
	return nil, nil
}

func (h *handle) SetPushListener(provider.PushListener) {}

// StartPush reports push as unavailable; cast playback state is polled.
func (h *handle) StartPush() error {
	return fmt.Errorf("cast push updates: %w", provider.ErrUnsupportedCommand)
}

func (h *handle) StopPush() {}

func (h *handle) Close() error {
	return h.client.Close(false)
}

// normalizeState folds the cast player states into the generic ones.
func normalizeState(s string) provider.State {
	s = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	switch s {
	case "playing":
		return provider.StatePlaying
	case "paused", "paused_playback":
		return provider.StatePaused
	case "stopped", "no_media_present":
		return provider.StateStopped
	case "buffering", "transitioning", "loading":
		return provider.StateLoading
	default:
		return provider.StateIdle
	}
}
