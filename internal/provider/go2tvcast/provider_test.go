package go2tvcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

func TestScanNormalizesAndSortsDevices(t *testing.T) {
	p := New()
	p.startLoop = func(context.Context) {}
	p.load = func(delaySeconds int) ([]devices.Device, error) {
		return []devices.Device{
			{Name: " Kitchen Display ", Addr: "192.168.1.20:8009", Type: "Chromecast"},
			{Name: "Bedroom TV", Addr: "192.168.1.10:8009", Type: "Chromecast"},
			{Name: "Media Renderer", Addr: "http://192.168.1.30:1400", Type: "DLNA"},
			{Name: "Bedroom TV", Addr: "192.168.1.10:8009", Type: "Chromecast"},
		}, nil
	}

	found, err := p.Scan(context.Background(), 3*time.Second)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(found) != 2 {
		t.Fatalf("expected 2 cast devices, got %d", len(found))
	}
	if found[0].Name != "Bedroom TV" || found[1].Name != "Kitchen Display" {
		t.Errorf("devices not sorted or trimmed: %q, %q", found[0].Name, found[1].Name)
	}
	if !found[0].HasService(provider.ProtocolChromecast) {
		t.Error("chromecast service not advertised")
	}
	if found[0].Identifier == "" || found[0].Identifier == found[1].Identifier {
		t.Errorf("identifiers not distinct: %q vs %q", found[0].Identifier, found[1].Identifier)
	}
}

func TestScanIdentifierIsStable(t *testing.T) {
	load := func(delaySeconds int) ([]devices.Device, error) {
		return []devices.Device{{Name: "TV", Addr: "192.168.1.10:8009", Type: "Chromecast"}}, nil
	}

	first := New()
	first.startLoop = func(context.Context) {}
	first.load = load
	second := New()
	second.startLoop = func(context.Context) {}
	second.load = load

	a, err := first.Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	b, err := second.Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if a[0].Identifier != b[0].Identifier {
		t.Errorf("identifier changed across scans: %q vs %q", a[0].Identifier, b[0].Identifier)
	}
}

func TestScanNoDevicesIsNotAnError(t *testing.T) {
	p := New()
	p.startLoop = func(context.Context) {}
	p.load = func(delaySeconds int) ([]devices.Device, error) {
		return nil, devices.ErrNoDeviceAvailable
	}

	found, err := p.Scan(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("empty network must not fail the scan: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no devices, got %d", len(found))
	}
}

func TestScanStartsDiscoveryLoopOnce(t *testing.T) {
	starts := 0
	p := New()
	p.startLoop = func(context.Context) { starts++ }
	p.load = func(delaySeconds int) ([]devices.Device, error) { return nil, nil }

	for i := 0; i < 3; i++ {
		if _, err := p.Scan(context.Background(), time.Second); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
	}
	if starts != 1 {
		t.Errorf("discovery loop started %d times, want 1", starts)
	}
}

func TestPairIsNotSupported(t *testing.T) {
	p := New()
	dev := &provider.DiscoveredDevice{Address: "192.168.1.10:8009"}

	_, err := p.Pair(context.Background(), dev, provider.ProtocolChromecast)
	if !errors.Is(err, provider.ErrNoEligibleProtocol) {
		t.Errorf("expected ErrNoEligibleProtocol, got %v", err)
	}
}

type fakeCastClient struct {
	status    *castprotocol.CastStatus
	statusErr error
	stopped   bool
	closed    bool
}

func (c *fakeCastClient) Connect() error { return nil }
func (c *fakeCastClient) Stop() error {
	c.stopped = true
	return nil
}
func (c *fakeCastClient) GetStatus() (*castprotocol.CastStatus, error) {
	return c.status, c.statusErr
}
func (c *fakeCastClient) Close(stopMedia bool) error {
	c.closed = true
	return nil
}

func TestHandlePlayingMapsPlayerState(t *testing.T) {
	cases := []struct {
		raw  string
		want provider.State
	}{
		{"PLAYING", provider.StatePlaying},
		{"paused", provider.StatePaused},
		{"PAUSED_PLAYBACK", provider.StatePaused},
		{"stopped", provider.StateStopped},
		{"NO MEDIA PRESENT", provider.StateStopped},
		{"BUFFERING", provider.StateLoading},
		{"TRANSITIONING", provider.StateLoading},
		{"", provider.StateIdle},
		{"something-new", provider.StateIdle},
	}

	for _, tc := range cases {
		h := &handle{client: &fakeCastClient{status: &castprotocol.CastStatus{PlayerState: tc.raw}}}
		playing, err := h.Playing(context.Background())
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if playing.DeviceState != tc.want {
			t.Errorf("%q mapped to %q, want %q", tc.raw, playing.DeviceState, tc.want)
		}
	}
}

func TestHandlePlayingSurfacesStatusFailure(t *testing.T) {
	h := &handle{client: &fakeCastClient{statusErr: errors.New("socket closed")}}

	if _, err := h.Playing(context.Background()); !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHandleRemoteCommands(t *testing.T) {
	client := &fakeCastClient{}
	h := &handle{client: client}

	if err := h.RemoteCommand(context.Background(), provider.CmdPowerOff); err != nil {
		t.Fatalf("power_off failed: %v", err)
	}
	if !client.stopped {
		t.Error("power_off did not stop the cast session")
	}

	err := h.RemoteCommand(context.Background(), provider.CmdMenu)
	if !errors.Is(err, provider.ErrUnsupportedCommand) {
		t.Errorf("expected ErrUnsupportedCommand for menu, got %v", err)
	}
}

func TestHandleCloseLeavesMediaRunning(t *testing.T) {
	client := &fakeCastClient{}
	h := &handle{client: client}

	if err := h.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !client.closed {
		t.Error("client not closed")
	}
	if client.stopped {
		t.Error("close must not stop playback")
	}
}
