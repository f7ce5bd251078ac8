// Package nowplaying keeps a client's now-playing view in sync with a
// connected device. Push notifications and a fallback poll both feed a
// single reconcile loop, so events always reach the client in order.
package nowplaying

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

const (
	// DefaultPollInterval is how often playback state is polled when no
	// push notification arrives.
	DefaultPollInterval = 10 * time.Second

	initialFetchTimeout = 5 * time.Second
	artworkFetchTimeout = 3 * time.Second

	// triggerBacklog bounds pending reconcile requests. A burst beyond
	// it collapses into the reconciles already queued.
	triggerBacklog = 8
)

// Event is one now-playing update pushed to the client.
type Event struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	Artwork     string `json:"artwork,omitempty"`
	HasArtwork  bool   `json:"has_artwork"`
	DeviceState string `json:"device_state"`
	App         string `json:"app,omitempty"`
}

// Sink receives reconciled events.
type Sink func(Event)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPollInterval overrides the fallback poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithDeviceLabel sets the label shown as artist when the metadata has
// neither artist nor album.
func WithDeviceLabel(label string) Option {
	return func(r *Reconciler) {
		r.deviceLabel = label
	}
}

// WithArtworkMaxSize caps artwork dimensions before encoding. Zero
// disables downscaling.
func WithArtworkMaxSize(px int) Option {
	return func(r *Reconciler) {
		r.artworkMax = px
	}
}

// Reconciler folds push notifications and polls into ordered events.
type Reconciler struct {
	handle       provider.DeviceHandle
	sink         Sink
	pollInterval time.Duration
	deviceLabel  string
	artworkMax   int

	trigger chan struct{}
	done    chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool

	// Snapshot of the last emitted state. Only touched by the loop
	// goroutine and by InitialFetch before the loop starts.
	lastTitle   string
	lastApp     string
	lastArtID   string
	lastState   provider.State
	cachedArt   string
	hasSnapshot bool
}

// NewReconciler builds a reconciler for one device handle. Events go to
// sink one at a time.
func NewReconciler(handle provider.DeviceHandle, sink Sink, opts ...Option) *Reconciler {
	r := &Reconciler{
		handle:       handle,
		sink:         sink,
		pollInterval: DefaultPollInterval,
		artworkMax:   DefaultArtworkMaxSize,
		trigger:      make(chan struct{}, triggerBacklog),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitialFetch reconciles once, synchronously, so the client sees the
// current state right after connecting. Failures are logged only.
func (r *Reconciler) InitialFetch(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, initialFetchTimeout)
	defer cancel()
	r.reconcile(fctx)
}

// Start registers for push updates and runs the reconcile loop until
// Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.handle.SetPushListener(func(provider.Playing) {
		r.Trigger()
	})
	if err := r.handle.StartPush(); err != nil {
		log.Warn().Err(err).Msg("Push updates unavailable, relying on polling")
	}

	go r.run(loopCtx)
}

// Trigger requests a reconcile. Never blocks; when the backlog is full
// the request folds into the ones already pending.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Stop halts the loop and unregisters push updates. Safe to call
// repeatedly.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	cancel := r.cancel
	started := r.started
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.handle.StopPush()
	if started {
		<-r.done
	}
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.trigger:
			r.reconcile(ctx)
		case <-ticker.C:
			if r.pollChanged(ctx) {
				r.reconcile(ctx)
			}
		}
	}
}

// pollChanged reports whether playback drifted from the last emitted
// snapshot, so an unchanged poll does not wake the client.
func (r *Reconciler) pollChanged(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, artworkFetchTimeout)
	defer cancel()

	playing, err := r.handle.Playing(pctx)
	if err != nil {
		log.Debug().Err(err).Msg("Now-playing poll failed")
		return false
	}
	return !r.hasSnapshot || playing.Title != r.lastTitle || playing.DeviceState != r.lastState
}

func (r *Reconciler) reconcile(ctx context.Context) {
	playing, err := r.handle.Playing(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch playback state")
		return
	}

	appName := ""
	if app, err := r.handle.ActiveApp(ctx); err == nil && app != nil {
		appName = app.Name
	}

	artID := r.handle.ArtworkID()
	contentChanged := appName != r.lastApp || playing.Title != r.lastTitle
	needFetch := !r.hasSnapshot || contentChanged || artID != r.lastArtID

	if needFetch {
		actx, cancel := context.WithTimeout(ctx, artworkFetchTimeout)
		art, err := r.handle.Artwork(actx)
		cancel()
		switch {
		case err != nil || art == nil || len(art.Data) == 0:
			// Keep stale artwork only while the content it belongs to
			// is still on screen.
			if contentChanged {
				r.cachedArt = ""
			}
			if err != nil {
				log.Debug().Err(err).Msg("Artwork fetch failed")
			}
		default:
			r.cachedArt = encodeArtwork(art, r.artworkMax)
		}
	}

	r.sink(Event{
		Title:       displayTitle(playing, appName),
		Artist:      displayArtist(playing, r.deviceLabel),
		Album:       playing.Album,
		Artwork:     r.cachedArt,
		HasArtwork:  r.cachedArt != "",
		DeviceState: string(playing.DeviceState),
		App:         appName,
	})

	r.lastTitle = playing.Title
	r.lastApp = appName
	r.lastArtID = artID
	r.lastState = playing.DeviceState
	r.hasSnapshot = true
}

func displayTitle(playing provider.Playing, appName string) string {
	if playing.Title != "" {
		return playing.Title
	}
	if appName != "" {
		return "Watching " + appName
	}
	return "Not Playing"
}

func displayArtist(playing provider.Playing, deviceLabel string) string {
	if playing.Artist != "" {
		return playing.Artist
	}
	if playing.Album != "" {
		return playing.Album
	}
	return deviceLabel
}
