// Package registry merges live network-scan results with durable pairing
// records into a unified device view, and owns the ephemeral
// address-keyed discovery cache.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// DefaultScanTimeout bounds one network scan.
const DefaultScanTimeout = 5 * time.Second

// Scanner is the slice of the provider the registry needs.
type Scanner interface {
	Scan(ctx context.Context, timeout time.Duration) ([]*provider.DiscoveredDevice, error)
}

// Store lists durable pairing records.
type Store interface {
	ListDevices() ([]store.DeviceRecord, error)
}

// Service implements device discovery and the scan/store merge.
type Service struct {
	scanner     Scanner
	store       Store
	cache       *Cache
	scanTimeout time.Duration
}

// Option is a functional option for configuring the service.
type Option func(*Service)

// WithScanTimeout overrides the network scan timeout.
func WithScanTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.scanTimeout = d
	}
}

// NewService creates a registry service over a scanner, a record store and
// the shared discovery cache.
func NewService(scanner Scanner, st Store, cache *Cache, opts ...Option) *Service {
	s := &Service{
		scanner:     scanner,
		store:       st,
		cache:       cache,
		scanTimeout: DefaultScanTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cache returns the discovery cache shared with pairing and connect paths.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Discover runs a network scan, rebuilds the discovery cache, and merges
// scan results with durable records into one view per logical device.
// A scan failure yields zero online devices for this cycle, never an
// error; offline durable entries are still returned.
func (s *Service) Discover(ctx context.Context) ([]DeviceView, error) {
	log.Debug().Dur("timeout", s.scanTimeout).Msg("Starting device discovery")

	online, err := s.scanner.Scan(ctx, s.scanTimeout)
	if err != nil {
		log.Warn().Err(err).Msg("Network scan failed, reporting stored devices only")
		online = nil
	}

	s.cache.ReplaceAll(online)

	records, err := s.store.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("load stored devices: %w", err)
	}
	groups := groupRecords(records)

	views := make([]DeviceView, 0, len(online)+len(groups))
	matched := make(map[*recordGroup]bool)

	for _, dev := range online {
		grp := matchGroup(groups, dev)
		if grp != nil {
			matched[grp] = true
			applyGroupCredentials(dev, grp)
		}
		views = append(views, onlineView(dev, grp))
	}

	for _, grp := range groups {
		if !matched[grp] {
			views = append(views, offlineView(grp))
		}
	}

	sortViews(views)

	log.Info().
		Int("total", len(views)).
		Int("online", len(online)).
		Msg("Discovery finished")
	return views, nil
}

// PairedInitial returns grouped durable records without a network scan,
// for fast initial population before discovery completes. Online status
// is unknown (nil).
func (s *Service) PairedInitial(ctx context.Context) ([]DeviceView, error) {
	records, err := s.store.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("load stored devices: %w", err)
	}

	groups := groupRecords(records)
	views := make([]DeviceView, 0, len(groups))
	for _, grp := range groups {
		rep := grp.representative()
		views = append(views, DeviceView{
			Name:              rep.Name,
			Address:           rep.Address,
			DeviceID:          rep.DeviceID,
			Services:          []string{},
			PairedProtocols:   grp.protocols(),
			UnpairedProtocols: []string{},
			Paired:            true,
			Online:            nil,
		})
	}
	sortViews(views)
	return views, nil
}

// UnpairedProtocols resolves the device at an address from the current
// discovery cache and returns its advertised-but-unpaired protocols in
// pairing priority order. Used to seed a chained pairing queue.
func (s *Service) UnpairedProtocols(address string) ([]string, error) {
	dev, ok := s.cache.Get(address)
	if !ok {
		return nil, fmt.Errorf("address %s: %w", address, provider.ErrDeviceNotFound)
	}

	records, err := s.store.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("load stored devices: %w", err)
	}

	paired := make(map[string]bool)
	if grp := matchGroup(groupRecords(records), dev); grp != nil {
		for _, proto := range grp.protocols() {
			paired[proto] = true
		}
	}

	return unpairedInPriorityOrder(dev.Protocols(), paired), nil
}

// matchGroup finds the record group for a scanned device: identity-set
// overlap first, then an (address, name) match against each group's
// representative record. The heuristic can misattribute two distinct
// devices sharing one name on the same segment; identity overlap always
// wins when present.
func matchGroup(groups []*recordGroup, dev *provider.DiscoveredDevice) *recordGroup {
	for _, id := range dev.AllIdentifiers() {
		for _, grp := range groups {
			if grp.hasIdentity(id) {
				return grp
			}
		}
	}
	for _, grp := range groups {
		rep := grp.representative()
		if rep.Address == dev.Address && rep.Name == dev.Name {
			return grp
		}
	}
	return nil
}

// applyGroupCredentials applies every stored credential in a group to the
// live device, one protocol at a time. A failure for one protocol is
// logged and skipped; it never aborts the remaining protocols.
func applyGroupCredentials(dev *provider.DiscoveredDevice, grp *recordGroup) {
	for _, rec := range grp.records {
		if rec.Credentials == "" {
			continue
		}
		if err := dev.ApplyCredentials(rec.Protocol, rec.Credentials); err != nil {
			log.Warn().
				Err(err).
				Str("device", dev.Name).
				Str("protocol", rec.Protocol).
				Msg("Failed to apply stored credentials")
			continue
		}
		log.Debug().
			Str("device", dev.Name).
			Str("protocol", rec.Protocol).
			Msg("Applied stored credentials")
	}
}

func onlineView(dev *provider.DiscoveredDevice, grp *recordGroup) DeviceView {
	online := true
	view := DeviceView{
		Name:     dev.Name,
		Address:  dev.Address,
		DeviceID: dev.Identifier,
		Services: dev.Protocols(),
		Online:   &online,
	}

	paired := make(map[string]bool)
	if grp != nil {
		view.Paired = true
		view.DeviceID = grp.representative().DeviceID
		view.PairedProtocols = grp.protocols()
		for _, proto := range view.PairedProtocols {
			paired[proto] = true
		}
	} else {
		view.PairedProtocols = []string{}
	}

	view.UnpairedProtocols = unpairedInPriorityOrder(dev.Protocols(), paired)
	return view
}

func offlineView(grp *recordGroup) DeviceView {
	offline := false
	rep := grp.representative()
	return DeviceView{
		Name:              rep.Name,
		Address:           rep.Address,
		DeviceID:          rep.DeviceID,
		Services:          []string{},
		PairedProtocols:   grp.protocols(),
		UnpairedProtocols: []string{},
		Paired:            true,
		Online:            &offline,
	}
}

// unpairedInPriorityOrder filters advertised protocols down to unpaired
// ones, listing pairing-priority protocols first and the rest in
// advertisement order.
func unpairedInPriorityOrder(advertised []string, paired map[string]bool) []string {
	advertisedSet := make(map[string]bool, len(advertised))
	for _, proto := range advertised {
		advertisedSet[proto] = true
	}

	unpaired := make([]string, 0, len(advertised))
	taken := make(map[string]bool)
	for _, proto := range provider.PairingPriority {
		if advertisedSet[proto] && !paired[proto] {
			unpaired = append(unpaired, proto)
			taken[proto] = true
		}
	}
	for _, proto := range advertised {
		if !paired[proto] && !taken[proto] {
			unpaired = append(unpaired, proto)
			taken[proto] = true
		}
	}
	return unpaired
}

// sortViews makes result ordering deterministic for a fixed input: online
// entries first, then by name, address and device id.
func sortViews(views []DeviceView) {
	rank := func(v DeviceView) int {
		switch {
		case v.Online != nil && *v.Online:
			return 0
		case v.Online == nil:
			return 1
		default:
			return 2
		}
	}
	sort.Slice(views, func(i, j int) bool {
		if rank(views[i]) != rank(views[j]) {
			return rank(views[i]) < rank(views[j])
		}
		if views[i].Name != views[j].Name {
			return views[i].Name < views[j].Name
		}
		if views[i].Address != views[j].Address {
			return views[i].Address < views[j].Address
		}
		return views[i].DeviceID < views[j].DeviceID
	})
}
