package pairing

import (
	"context"
	"errors"
	"testing"

	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

type fakeHandler struct {
	cred      provider.Credential
	beginErr  error
	finishErr error

	pin      string
	begun    bool
	finished bool
	closed   int
}

func (h *fakeHandler) Begin(ctx context.Context) error {
	h.begun = true
	return h.beginErr
}

func (h *fakeHandler) Pin(pin string) { h.pin = pin }

func (h *fakeHandler) Finish(ctx context.Context) error {
	if h.finishErr != nil {
		return h.finishErr
	}
	h.finished = true
	return nil
}

func (h *fakeHandler) Credentials() provider.Credential { return h.cred }

func (h *fakeHandler) Close() error {
	h.closed++
	return nil
}

type fakePairer struct {
	handlers map[string]*fakeHandler
	err      error
	paired   []string
}

func (p *fakePairer) Pair(ctx context.Context, dev *provider.DiscoveredDevice, protocol string) (provider.PairingHandler, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.paired = append(p.paired, protocol)
	h, ok := p.handlers[protocol]
	if !ok {
		h = &fakeHandler{cred: provider.Credential{DeviceID: "dev-" + protocol, Protocol: protocol, Credentials: "cred-" + protocol}}
		if p.handlers == nil {
			p.handlers = map[string]*fakeHandler{}
		}
		p.handlers[protocol] = h
	}
	return h, nil
}

type fakeCredStore struct {
	records []store.DeviceRecord
	err     error
}

func (s *fakeCredStore) UpsertDevice(rec store.DeviceRecord) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type fakeCache struct {
	devices map[string]*provider.DiscoveredDevice
}

func (c *fakeCache) Get(address string) (*provider.DiscoveredDevice, bool) {
	dev, ok := c.devices[address]
	return dev, ok
}

func (c *fakeCache) FindByIdentity(id string) (*provider.DiscoveredDevice, bool) {
	for _, dev := range c.devices {
		for _, known := range dev.AllIdentifiers() {
			if known == id {
				return dev, true
			}
		}
	}
	return nil, false
}

func cacheWith(name, address string, protocols ...string) *fakeCache {
	dev := &provider.DiscoveredDevice{Name: name, Address: address, Identifier: "main-id"}
	for _, proto := range protocols {
		dev.Services = append(dev.Services, provider.Service{Protocol: proto, Identifier: "svc-" + proto})
	}
	return &fakeCache{devices: map[string]*provider.DiscoveredDevice{address: dev}}
}

func TestBeginUnknownAddress(t *testing.T) {
	flow := NewFlow(&fakePairer{}, &fakeCredStore{}, &fakeCache{})

	err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolMRP)
	if !errors.Is(err, provider.ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestBeginAutoSelectsByPriority(t *testing.T) {
	pairer := &fakePairer{}
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolDMAP, provider.ProtocolMRP)
	flow := NewFlow(pairer, &fakeCredStore{}, cache)

	if err := flow.Begin(context.Background(), "10.0.0.2", ""); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if flow.Protocol() != provider.ProtocolMRP {
		t.Errorf("auto-selected %q, want MRP", flow.Protocol())
	}
	if flow.Status() != StatusAwaitingPIN {
		t.Errorf("status = %q, want awaiting_pin", flow.Status())
	}
}

func TestBeginNoEligibleProtocol(t *testing.T) {
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolChromecast)
	flow := NewFlow(&fakePairer{}, &fakeCredStore{}, cache)

	err := flow.Begin(context.Background(), "10.0.0.2", "")
	if !errors.Is(err, provider.ErrNoEligibleProtocol) {
		t.Errorf("expected ErrNoEligibleProtocol, got %v", err)
	}
}

func TestSubmitPINWithoutActivePairing(t *testing.T) {
	flow := NewFlow(&fakePairer{}, &fakeCredStore{}, &fakeCache{})

	if _, err := flow.SubmitPIN(context.Background(), "1234"); !errors.Is(err, ErrNoActivePairing) {
		t.Errorf("expected ErrNoActivePairing, got %v", err)
	}
}

func TestSuccessfulPairingPersistsCredentials(t *testing.T) {
	pairer := &fakePairer{}
	st := &fakeCredStore{}
	cache := cacheWith("Living Room", "10.0.0.2", provider.ProtocolMRP)
	flow := NewFlow(pairer, st, cache)

	if err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolMRP); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	res, err := flow.SubmitPIN(context.Background(), "1234")
	if err != nil {
		t.Fatalf("submit pin failed: %v", err)
	}
	if res.DeviceID != "dev-MRP" || res.Protocol != provider.ProtocolMRP {
		t.Errorf("unexpected result %+v", res)
	}
	if res.NextProtocol != "" {
		t.Errorf("no queue, NextProtocol should be empty, got %q", res.NextProtocol)
	}

	if len(st.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(st.records))
	}
	rec := st.records[0]
	if rec.Credentials != "cred-MRP" || rec.Protocol != provider.ProtocolMRP {
		t.Errorf("unexpected record %+v", rec)
	}

	h := pairer.handlers[provider.ProtocolMRP]
	if h.pin != "1234" {
		t.Errorf("pin not forwarded, got %q", h.pin)
	}
	if h.closed == 0 {
		t.Error("handler not closed after completion")
	}
	if flow.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", flow.Status())
	}
}

func TestIdentityResolutionFallsBackToUnknown(t *testing.T) {
	// The handshake surfaces an identifier the cache has never seen and
	// the scanned device carries no name.
	pairer := &fakePairer{handlers: map[string]*fakeHandler{
		provider.ProtocolMRP: {cred: provider.Credential{DeviceID: "surprise-id", Protocol: provider.ProtocolMRP, Credentials: "c"}},
	}}
	st := &fakeCredStore{}
	dev := &provider.DiscoveredDevice{Address: "10.0.0.2", Services: []provider.Service{{Protocol: provider.ProtocolMRP}}}
	cache := &fakeCache{devices: map[string]*provider.DiscoveredDevice{"10.0.0.2": dev}}
	flow := NewFlow(pairer, st, cache)

	if err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolMRP); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	res, err := flow.SubmitPIN(context.Background(), "0000")
	if err != nil {
		t.Fatalf("submit pin failed: %v", err)
	}
	if res.Address != "10.0.0.2" {
		t.Errorf("address should come from the scanned device, got %q", res.Address)
	}
	if res.Name != "Unknown" {
		t.Errorf("nameless device should fall back to Unknown, got %q", res.Name)
	}
}

func TestFailedHandshakeDiscardsQueue(t *testing.T) {
	pairer := &fakePairer{handlers: map[string]*fakeHandler{
		provider.ProtocolMRP: {finishErr: errors.New("wrong pin")},
	}}
	st := &fakeCredStore{}
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolMRP, provider.ProtocolCompanion)
	flow := NewFlow(pairer, st, cache)

	queue := []string{provider.ProtocolMRP, provider.ProtocolCompanion}
	if err := flow.StartQueue(context.Background(), "10.0.0.2", queue); err != nil {
		t.Fatalf("start queue failed: %v", err)
	}

	_, err := flow.SubmitPIN(context.Background(), "9999")
	if !errors.Is(err, provider.ErrHandshakeFailure) {
		t.Fatalf("expected ErrHandshakeFailure, got %v", err)
	}
	if flow.Status() != StatusFailed {
		t.Errorf("status = %q, want failed", flow.Status())
	}
	if len(st.records) != 0 {
		t.Errorf("failed pairing must not persist credentials, got %+v", st.records)
	}

	// The Companion pairing must not have auto-started.
	if len(pairer.paired) != 1 {
		t.Errorf("queued protocol started after failure: %v", pairer.paired)
	}
}

func TestQueueChainsToNextProtocol(t *testing.T) {
	pairer := &fakePairer{}
	st := &fakeCredStore{}
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolMRP, provider.ProtocolCompanion)
	flow := NewFlow(pairer, st, cache)

	queue := []string{provider.ProtocolMRP, provider.ProtocolCompanion}
	if err := flow.StartQueue(context.Background(), "10.0.0.2", queue); err != nil {
		t.Fatalf("start queue failed: %v", err)
	}

	res, err := flow.SubmitPIN(context.Background(), "1111")
	if err != nil {
		t.Fatalf("first pin failed: %v", err)
	}
	if res.Protocol != provider.ProtocolMRP {
		t.Errorf("first completion protocol = %q", res.Protocol)
	}
	if res.NextProtocol != provider.ProtocolCompanion {
		t.Errorf("NextProtocol = %q, want Companion", res.NextProtocol)
	}
	if flow.Status() != StatusAwaitingPIN {
		t.Errorf("status = %q, want awaiting_pin for queued protocol", flow.Status())
	}

	res, err = flow.SubmitPIN(context.Background(), "2222")
	if err != nil {
		t.Fatalf("second pin failed: %v", err)
	}
	if res.Protocol != provider.ProtocolCompanion || res.NextProtocol != "" {
		t.Errorf("unexpected terminal result %+v", res)
	}
	if flow.Status() != StatusIdle {
		t.Errorf("status = %q, want idle after the queue drains", flow.Status())
	}

	if len(st.records) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(st.records))
	}
	if st.records[0].Protocol == st.records[1].Protocol {
		t.Error("records should cover distinct protocols")
	}
}

func TestStartQueueEmpty(t *testing.T) {
	flow := NewFlow(&fakePairer{}, &fakeCredStore{}, &fakeCache{})

	if err := flow.StartQueue(context.Background(), "10.0.0.2", nil); !errors.Is(err, ErrNothingToPair) {
		t.Errorf("expected ErrNothingToPair, got %v", err)
	}
}

func TestBeginReplacesActivePairing(t *testing.T) {
	pairer := &fakePairer{}
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolMRP, provider.ProtocolCompanion)
	flow := NewFlow(pairer, &fakeCredStore{}, cache)

	if err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolMRP); err != nil {
		t.Fatalf("first begin failed: %v", err)
	}
	if err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolCompanion); err != nil {
		t.Fatalf("second begin failed: %v", err)
	}

	if pairer.handlers[provider.ProtocolMRP].closed == 0 {
		t.Error("first handler not closed when a new pairing started")
	}
	if flow.Protocol() != provider.ProtocolCompanion {
		t.Errorf("active protocol = %q", flow.Protocol())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	pairer := &fakePairer{}
	cache := cacheWith("TV", "10.0.0.2", provider.ProtocolMRP)
	flow := NewFlow(pairer, &fakeCredStore{}, cache)

	if err := flow.Begin(context.Background(), "10.0.0.2", provider.ProtocolMRP); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	flow.Close()
	flow.Close()

	if got := pairer.handlers[provider.ProtocolMRP].closed; got != 1 {
		t.Errorf("handler closed %d times, want 1", got)
	}
	if flow.Status() != StatusIdle {
		t.Errorf("status = %q, want idle", flow.Status())
	}
}
