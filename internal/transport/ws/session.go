package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/apps"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/nowplaying"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/pairing"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/registry"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// wsConn is the slice of *websocket.Conn a session uses.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Registry is the discovery surface a session drives.
type Registry interface {
	Discover(ctx context.Context) ([]registry.DeviceView, error)
	PairedInitial(ctx context.Context) ([]registry.DeviceView, error)
	UnpairedProtocols(address string) ([]string, error)
	Cache() *registry.Cache
}

// Pairing is the per-session pairing flow.
type Pairing interface {
	Begin(ctx context.Context, address, protocol string) error
	StartQueue(ctx context.Context, address string, queue []string) error
	SubmitPIN(ctx context.Context, pin string) (pairing.Result, error)
	Close()
}

// Connector opens device connections.
type Connector interface {
	Connect(ctx context.Context, dev *provider.DiscoveredDevice) (provider.DeviceHandle, error)
}

// DeviceStore is the durable store surface a session needs.
type DeviceStore interface {
	DeleteDevice(deviceID string) error
}

// AppLister lists apps and toggles favorites.
type AppLister interface {
	List(ctx context.Context, handle provider.DeviceHandle, deviceID string) (apps.Listing, error)
	ToggleFavorite(ctx context.Context, deviceID, bundleID, name string) (bool, error)
}

// Session is one client connection: its socket, its pairing flow and
// at most one connected device.
type Session struct {
	id       string
	conn     wsConn
	remoteIP string

	registry  Registry
	pairing   Pairing
	connector Connector
	store     DeviceStore
	apps      AppLister
	npOpts    []nowplaying.Option

	// writeMu serializes socket writes; events come from the read loop,
	// the reconciler goroutine and async command acks.
	writeMu sync.Mutex

	mu         sync.Mutex
	handle     provider.DeviceHandle
	reconciler *nowplaying.Reconciler
	deviceID   string
	closed     bool
}

func newSession(conn wsConn, remoteIP string, reg Registry, pair Pairing, connector Connector, st DeviceStore, appSvc AppLister, npOpts []nowplaying.Option) *Session {
	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		remoteIP:  remoteIP,
		registry:  reg,
		pairing:   pair,
		connector: connector,
		store:     st,
		apps:      appSvc,
		npOpts:    npOpts,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// run reads commands until the socket closes, then tears the session
// down. Commands are dispatched in arrival order.
func (s *Session) run(ctx context.Context) {
	defer s.cleanup()

	log.Info().Str("session", s.id).Str("remote", s.remoteIP).Msg("Client connected")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("session", s.id).Msg("Read loop ended")
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendError("", "malformed request: "+err.Error())
			continue
		}
		if req.Command == "" {
			s.sendError("", "missing command")
			continue
		}

		s.dispatch(ctx, req)
	}
}

func (s *Session) dispatch(ctx context.Context, req Request) {
	switch req.Command {
	case "discover":
		s.handleDiscover(ctx)
	case "get_paired":
		s.handleGetPaired(ctx)
	case "connect":
		s.handleConnect(ctx, req)
	case "disconnect":
		s.handleDisconnect()
	case "pair_start":
		s.handlePairStart(ctx, req)
	case "pair_pin":
		s.handlePairPIN(ctx, req)
	case "delete_device":
		s.handleDeleteDevice(ctx, req)
	case "list_apps":
		s.handleListApps(ctx)
	case "launch_app":
		s.handleLaunchApp(ctx, req)
	case "toggle_favorite":
		s.handleToggleFavorite(ctx, req)
	default:
		s.handleRemoteCommand(ctx, req)
	}
}

func (s *Session) handleDiscover(ctx context.Context) {
	views, err := s.registry.Discover(ctx)
	if err != nil {
		s.sendError("discover", err.Error())
		return
	}
	s.sendDiscovery(views)
}

func (s *Session) handleGetPaired(ctx context.Context) {
	views, err := s.registry.PairedInitial(ctx)
	if err != nil {
		s.sendError("get_paired", err.Error())
		return
	}
	s.sendDiscovery(views)
}

func (s *Session) handleConnect(ctx context.Context, req Request) {
	if req.Address == "" {
		s.sendError("connect", "address is required")
		return
	}
	dev, ok := s.registry.Cache().Get(req.Address)
	if !ok {
		s.sendError("connect", fmt.Sprintf("device %s: %v", req.Address, provider.ErrDeviceNotFound))
		return
	}

	// Replacing a connection tears the previous one down first.
	s.detachDevice()

	handle, err := s.connector.Connect(ctx, dev)
	if err != nil {
		s.sendError("connect", err.Error())
		return
	}

	deviceID := dev.Identifier
	if deviceID == "" {
		deviceID = dev.Address
	}

	opts := append([]nowplaying.Option{nowplaying.WithDeviceLabel(dev.Name)}, s.npOpts...)
	rec := nowplaying.NewReconciler(handle, func(ev nowplaying.Event) {
		s.send(NowPlayingEvent{Type: TypeNowPlaying, Event: ev})
	}, opts...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		handle.Close()
		return
	}
	s.handle = handle
	s.reconciler = rec
	s.deviceID = deviceID
	s.mu.Unlock()

	s.send(StatusEvent{Type: TypeStatus, Message: "connected to " + dev.Name})

	rec.InitialFetch(ctx)
	rec.Start(ctx)
}

func (s *Session) handleDisconnect() {
	s.detachDevice()
	s.send(StatusEvent{Type: TypeStatus, Message: "disconnected"})
}

func (s *Session) handlePairStart(ctx context.Context, req Request) {
	if req.Address == "" {
		s.sendError("pair_start", "address is required")
		return
	}

	var err error
	protocol := req.Protocol
	if protocol == "" {
		var queue []string
		queue, err = s.registry.UnpairedProtocols(req.Address)
		if err == nil {
			if len(queue) == 0 {
				err = pairing.ErrNothingToPair
			} else {
				protocol = queue[0]
				err = s.pairing.StartQueue(ctx, req.Address, queue)
			}
		}
	} else {
		err = s.pairing.Begin(ctx, req.Address, protocol)
	}

	if err != nil {
		s.send(PairingStatusEvent{
			Type:    TypePairingStatus,
			Status:  PairingFailed,
			Message: err.Error(),
		})
		return
	}

	s.send(PairingStatusEvent{
		Type:     TypePairingStatus,
		Status:   PairingStarted,
		Protocol: protocol,
	})
}

func (s *Session) handlePairPIN(ctx context.Context, req Request) {
	if req.PIN == "" {
		s.sendError("pair_pin", "pin is required")
		return
	}

	res, err := s.pairing.SubmitPIN(ctx, req.PIN)
	if err != nil {
		s.send(PairingStatusEvent{
			Type:    TypePairingStatus,
			Status:  PairingFailed,
			Message: err.Error(),
		})
		return
	}

	// Mid-queue the next handshake has already begun; prompt for its
	// PIN and hold the terminal completed event for the last protocol.
	if res.NextProtocol != "" {
		s.send(PairingStatusEvent{
			Type:     TypePairingStatus,
			Status:   PairingStarted,
			Protocol: res.NextProtocol,
			DeviceID: res.DeviceID,
			Name:     res.Name,
		})
		return
	}

	s.send(PairingStatusEvent{
		Type:     TypePairingStatus,
		Status:   PairingCompleted,
		Protocol: res.Protocol,
		DeviceID: res.DeviceID,
		Name:     res.Name,
	})

	// The device list changed; refresh it once the whole queue is done.
	s.handleDiscover(ctx)
}

func (s *Session) handleDeleteDevice(ctx context.Context, req Request) {
	if req.DeviceID == "" {
		s.sendError("delete_device", "device_id is required")
		return
	}
	if err := s.store.DeleteDevice(req.DeviceID); err != nil {
		s.sendError("delete_device", err.Error())
		return
	}
	s.send(StatusEvent{Type: TypeStatus, Message: "device deleted"})
	s.handleDiscover(ctx)
}

func (s *Session) handleListApps(ctx context.Context) {
	handle, deviceID := s.device()
	if handle == nil {
		s.sendError("list_apps", provider.ErrNotConnected.Error())
		return
	}
	listing, err := s.apps.List(ctx, handle, deviceID)
	if err != nil {
		s.sendError("list_apps", err.Error())
		return
	}
	s.send(AppListEvent{Type: TypeAppList, Listing: listing})
}

func (s *Session) handleLaunchApp(ctx context.Context, req Request) {
	if req.BundleID == "" {
		s.sendError("launch_app", "bundle_id is required")
		return
	}
	handle, _ := s.device()
	if handle == nil {
		s.sendError("launch_app", provider.ErrNotConnected.Error())
		return
	}
	if err := handle.LaunchApp(ctx, req.BundleID); err != nil {
		s.sendError("launch_app", err.Error())
		return
	}
	s.send(CommandStatusEvent{Type: TypeCommandStatus, Command: "launch_app", OK: true})
	s.triggerReconcile()
}

func (s *Session) handleToggleFavorite(ctx context.Context, req Request) {
	if req.BundleID == "" {
		s.sendError("toggle_favorite", "bundle_id is required")
		return
	}
	handle, deviceID := s.device()
	if handle == nil {
		s.sendError("toggle_favorite", provider.ErrNotConnected.Error())
		return
	}

	added, err := s.apps.ToggleFavorite(ctx, deviceID, req.BundleID, req.Name)
	if err != nil {
		s.sendError("toggle_favorite", err.Error())
		return
	}

	msg := "favorite removed"
	if added {
		msg = "favorite added"
	}
	s.send(CommandStatusEvent{Type: TypeCommandStatus, Command: "toggle_favorite", OK: true, Message: msg})

	// Push the refreshed listing so the client does not have to ask.
	if listing, err := s.apps.List(ctx, handle, deviceID); err == nil {
		s.send(AppListEvent{Type: TypeAppList, Listing: listing})
	}
}

// handleRemoteCommand serves every command not in the structured
// vocabulary by treating it as a direct device command.
func (s *Session) handleRemoteCommand(ctx context.Context, req Request) {
	handle, _ := s.device()
	if handle == nil {
		s.sendError(req.Command, provider.ErrNotConnected.Error())
		return
	}

	cmd, ok := provider.ParseRemoteCommand(req.Command)
	if !ok {
		s.sendError(req.Command, "unknown command")
		return
	}

	if cmd.IsVolume() {
		// Volume taps arrive in bursts; ack asynchronously instead of
		// holding up the read loop.
		go func() {
			if err := handle.RemoteCommand(context.WithoutCancel(ctx), cmd); err != nil {
				s.send(CommandStatusEvent{Type: TypeCommandStatus, Command: req.Command, OK: false, Message: err.Error()})
				return
			}
			s.send(CommandStatusEvent{Type: TypeCommandStatus, Command: req.Command, OK: true})
		}()
		return
	}

	if err := handle.RemoteCommand(ctx, cmd); err != nil {
		s.sendError(req.Command, err.Error())
		return
	}
	s.send(CommandStatusEvent{Type: TypeCommandStatus, Command: req.Command, OK: true})
	s.triggerReconcile()
}

// device returns the connected handle and device ID, or nil when no
// device is connected.
func (s *Session) device() (provider.DeviceHandle, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.deviceID
}

func (s *Session) triggerReconcile() {
	s.mu.Lock()
	rec := s.reconciler
	s.mu.Unlock()
	if rec != nil {
		rec.Trigger()
	}
}

// detachDevice stops the reconciler and closes the device connection.
func (s *Session) detachDevice() {
	s.mu.Lock()
	handle := s.handle
	rec := s.reconciler
	s.handle = nil
	s.reconciler = nil
	s.deviceID = ""
	s.mu.Unlock()

	if rec != nil {
		rec.Stop()
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Warn().Err(err).Str("session", s.id).Msg("Failed to close device handle")
		}
	}
}

// cleanup releases everything the session holds. Safe to call from the
// read loop and from an eviction at the same time.
func (s *Session) cleanup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.detachDevice()
	s.pairing.Close()
	s.conn.Close()

	log.Info().Str("session", s.id).Msg("Client disconnected")
}

func (s *Session) sendDiscovery(views []registry.DeviceView) {
	s.send(DiscoveryResultsEvent{
		Type:      TypeDiscoveryResults,
		Devices:   views,
		Timestamp: timeNow(),
	})
}

func (s *Session) sendError(command, message string) {
	s.send(ErrorEvent{Type: TypeError, Message: message, Command: command})
}

func (s *Session) send(v interface{}) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(v); err != nil {
		log.Debug().Err(err).Str("session", s.id).Msg("Failed to write event")
	}
}

// timeNow is swapped out in tests.
var timeNow = time.Now
