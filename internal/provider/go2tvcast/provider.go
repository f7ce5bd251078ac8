// Package go2tvcast backs the device provider with the go2tv
// Chromecast stack. Cast devices do not PIN-pair and expose only
// coarse playback state; the rest of the surface degrades explicitly.
package go2tvcast

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go2tv.app/go2tv/v2/devices"

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// minLoadDelaySeconds is the shortest discovery window go2tv accepts.
const minLoadDelaySeconds = 1

// Provider discovers and connects to Chromecast devices.
type Provider struct {
	startLoop func(ctx context.Context)
	load      func(delaySeconds int) ([]devices.Device, error)

	once sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// New builds a Chromecast provider. The mDNS discovery loop starts on
// the first scan and runs until ctx is cancelled.
func New(opts ...Option) *Provider {
	p := &Provider{
		startLoop: devices.StartChromecastDiscoveryLoop,
		load:      devices.LoadAllDevices,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scan waits up to timeout for the discovery loop to surface devices.
func (p *Provider) Scan(ctx context.Context, timeout time.Duration) ([]*provider.DiscoveredDevice, error) {
	p.once.Do(func() {
		p.startLoop(context.Background())
	})

	delay := int(timeout / time.Second)
	if delay < minLoadDelaySeconds {
		delay = minLoadDelaySeconds
	}

	found, err := p.load(delay)
	if err != nil {
		if errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cast devices: %w", err)
	}

	return normalizeScan(found), nil
}

// Pair always fails: Chromecast devices authenticate at the transport
// layer and have no PIN handshake.
func (p *Provider) Pair(ctx context.Context, dev *provider.DiscoveredDevice, protocol string) (provider.PairingHandler, error) {
	return nil, fmt.Errorf("pairing %s: %w", dev.Address, provider.ErrNoEligibleProtocol)
}

func normalizeScan(found []devices.Device) []*provider.DiscoveredDevice {
	out := make([]*provider.DiscoveredDevice, 0, len(found))
	seen := make(map[string]bool, len(found))

	for _, raw := range found {
		protocol := normalizeProtocol(raw.Type)
		if protocol != provider.ProtocolChromecast {
			continue
		}
		address := strings.TrimSpace(raw.Addr)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true

		id := stableID(protocol, address)
		out = append(out, &provider.DiscoveredDevice{
			Name:       strings.TrimSpace(raw.Name),
			Address:    address,
			Identifier: id,
			Services:   []provider.Service{{Protocol: protocol, Identifier: id}},
		})
	}

	sort.Slice(out, func(i, j int) bool {
		ni, nj := strings.ToLower(out[i].Name), strings.ToLower(out[j].Name)
		if ni != nj {
			return ni < nj
		}
		return out[i].Address < out[j].Address
	})

	log.Debug().Int("devices", len(out)).Msg("Cast scan finished")
	return out
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	if strings.Contains(lower, "chrome") {
		return provider.ProtocolChromecast
	}
	if strings.Contains(lower, "dlna") {
		return provider.ProtocolDLNA
	}
	return lower
}

// stableID derives a device identifier that survives rediscovery, since
// cast devices expose no durable one of their own.
func stableID(protocol, address string) string {
	sum := sha1.Sum([]byte(protocol + "|" + strings.ToLower(address)))
	return "cast_" + hex.EncodeToString(sum[:8])
}
