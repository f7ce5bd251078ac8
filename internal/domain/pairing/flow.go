// Package pairing drives the PIN pairing flow for a single client
// connection. At most one protocol is being paired at a time; when a
// queue of protocols is given, the next one starts automatically after
// the previous completes.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

var (
	// ErrNoActivePairing is returned when a PIN arrives without a
	// pairing in progress.
	ErrNoActivePairing = errors.New("pairing: no active pairing")

	// ErrNothingToPair is returned when every advertised protocol is
	// already paired.
	ErrNothingToPair = errors.New("pairing: nothing to pair")
)

// Status describes where the flow currently stands.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusAwaitingPIN Status = "awaiting_pin"
	StatusFailed      Status = "failed"
)

// Pairer starts protocol pairing against a live device.
type Pairer interface {
	Pair(ctx context.Context, dev *provider.DiscoveredDevice, protocol string) (provider.PairingHandler, error)
}

// Store persists credentials obtained from a completed pairing.
type Store interface {
	UpsertDevice(rec store.DeviceRecord) error
}

// Cache resolves scanned devices by address or identity.
type Cache interface {
	Get(address string) (*provider.DiscoveredDevice, bool)
	FindByIdentity(id string) (*provider.DiscoveredDevice, bool)
}

// Result reports a single completed pairing.
type Result struct {
	DeviceID string
	Name     string
	Address  string
	Protocol string

	// NextProtocol is set when a queued pairing started right after
	// this one; the client should expect another PIN prompt.
	NextProtocol string
}

// Flow holds the pairing state of one client connection.
type Flow struct {
	pairer Pairer
	store  Store
	cache  Cache

	mu       sync.Mutex
	handler  provider.PairingHandler
	device   *provider.DiscoveredDevice
	protocol string
	queue    []string
	status   Status
}

func NewFlow(pairer Pairer, st Store, cache Cache) *Flow {
	return &Flow{
		pairer: pairer,
		store:  st,
		cache:  cache,
		status: StatusIdle,
	}
}

// Status returns the current flow status.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Protocol returns the protocol currently being paired, if any.
func (f *Flow) Protocol() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.protocol
}

// Begin starts pairing one protocol on the device at address. An empty
// protocol selects the most capable advertised one. Any pairing already
// in progress is abandoned first.
func (f *Flow) Begin(ctx context.Context, address, protocol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginLocked(ctx, address, protocol, nil)
}

// StartQueue begins pairing the first protocol in queue and remembers
// the rest so they start automatically as each pairing completes.
func (f *Flow) StartQueue(ctx context.Context, address string, queue []string) error {
	if len(queue) == 0 {
		return ErrNothingToPair
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beginLocked(ctx, address, queue[0], queue[1:])
}

func (f *Flow) beginLocked(ctx context.Context, address, protocol string, queue []string) error {
	dev, ok := f.cache.Get(address)
	if !ok {
		return fmt.Errorf("pairing %s: %w", address, provider.ErrDeviceNotFound)
	}

	if protocol == "" {
		protocol = selectProtocol(dev)
		if protocol == "" {
			return fmt.Errorf("pairing %s: %w", address, provider.ErrNoEligibleProtocol)
		}
	}

	f.closeLocked()

	handler, err := f.pairer.Pair(ctx, dev, protocol)
	if err != nil {
		f.status = StatusFailed
		return fmt.Errorf("pairing %s over %s: %w", address, protocol, err)
	}
	if err := handler.Begin(ctx); err != nil {
		handler.Close()
		f.status = StatusFailed
		return fmt.Errorf("pairing %s over %s: %w", address, protocol, err)
	}

	f.handler = handler
	f.device = dev
	f.protocol = protocol
	f.queue = queue
	f.status = StatusAwaitingPIN

	log.Info().
		Str("address", address).
		Str("protocol", protocol).
		Int("queued", len(queue)).
		Msg("Pairing started")
	return nil
}

// SubmitPIN feeds the on-screen PIN into the active pairing and
// finishes the handshake. On success the credentials are persisted and
// the next queued protocol, if any, starts pairing.
func (f *Flow) SubmitPIN(ctx context.Context, pin string) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handler == nil {
		return Result{}, ErrNoActivePairing
	}

	f.handler.Pin(pin)
	if err := f.handler.Finish(ctx); err != nil {
		// Handler stays open until Close tears it down.
		f.status = StatusFailed
		f.queue = nil
		return Result{}, fmt.Errorf("finishing %s pairing: %w: %v", f.protocol, provider.ErrHandshakeFailure, err)
	}

	cred := f.handler.Credentials()
	name, address := f.resolveIdentity(cred.DeviceID)

	rec := store.DeviceRecord{
		DeviceID:    cred.DeviceID,
		Protocol:    f.protocol,
		Name:        name,
		Address:     address,
		Credentials: cred.Credentials,
	}
	if err := f.store.UpsertDevice(rec); err != nil {
		f.status = StatusFailed
		f.queue = nil
		return Result{}, fmt.Errorf("saving %s credentials: %w", f.protocol, err)
	}

	res := Result{
		DeviceID: cred.DeviceID,
		Name:     name,
		Address:  address,
		Protocol: f.protocol,
	}

	log.Info().
		Str("device_id", cred.DeviceID).
		Str("protocol", f.protocol).
		Str("name", name).
		Msg("Pairing completed")

	f.closeLocked()
	f.status = StatusIdle

	if len(f.queue) > 0 {
		next, rest := f.queue[0], f.queue[1:]
		if err := f.beginLocked(ctx, address, next, rest); err != nil {
			log.Warn().Err(err).Str("protocol", next).Msg("Failed to start queued pairing")
			f.queue = nil
		} else {
			res.NextProtocol = next
		}
	}

	return res, nil
}

// Close abandons any pairing in progress. Safe to call repeatedly.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	f.queue = nil
	f.status = StatusIdle
}

func (f *Flow) closeLocked() {
	if f.handler == nil {
		return
	}
	if err := f.handler.Close(); err != nil {
		log.Warn().Err(err).Str("protocol", f.protocol).Msg("Failed to close pairing handler")
	}
	f.handler = nil
	f.device = nil
	f.protocol = ""
}

// resolveIdentity maps a freshly paired identifier back to the scanned
// device, since the handshake can surface an identifier other than the
// one pairing started with.
func (f *Flow) resolveIdentity(deviceID string) (name, address string) {
	name, address = "Unknown", "Unknown"
	if dev, ok := f.cache.FindByIdentity(deviceID); ok {
		name, address = dev.Name, dev.Address
	} else if f.device != nil {
		name, address = f.device.Name, f.device.Address
	}
	if name == "" {
		name = "Unknown"
	}
	if address == "" {
		address = "Unknown"
	}
	return name, address
}

// selectProtocol picks the most capable advertised protocol.
func selectProtocol(dev *provider.DiscoveredDevice) string {
	for _, proto := range provider.PairingPriority {
		if dev.HasService(proto) {
			return proto
		}
	}
	return ""
}
