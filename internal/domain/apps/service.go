// Package apps lists the applications installed on a device and keeps
// the user's favorites, with icons resolved from the app store.
package apps

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider"
)

// iconResolveLimit bounds parallel icon lookups per listing.
const iconResolveLimit = 4

// FavoriteStore persists per-device favorite apps.
type FavoriteStore interface {
	ListFavorites(deviceID string) ([]store.FavoriteApp, error)
	GetFavorite(deviceID, bundleID string) (store.FavoriteApp, error)
	UpsertFavorite(fav store.FavoriteApp) error
	RemoveFavorite(deviceID, bundleID string) error
}

// IconResolver finds an icon URL for an app. An empty result means no
// icon could be found.
type IconResolver interface {
	Resolve(ctx context.Context, bundleID, name string) string
}

// Entry is one app in a listing.
type Entry struct {
	BundleID   string `json:"bundle_id"`
	Name       string `json:"name"`
	IconURL    string `json:"icon_url,omitempty"`
	IsFavorite bool   `json:"is_favorite"`
}

// Listing pairs the full app list with the favorites subset.
type Listing struct {
	AllApps   []Entry `json:"all_apps"`
	Favorites []Entry `json:"favorites"`
}

// Service merges device app lists with stored favorites.
type Service struct {
	store FavoriteStore
	icons IconResolver
}

func NewService(st FavoriteStore, icons IconResolver) *Service {
	return &Service{store: st, icons: icons}
}

// List fetches the installed apps from the device and merges in the
// stored favorites for deviceID. Favorites missing an icon get one
// resolved and persisted on the way through.
func (s *Service) List(ctx context.Context, handle provider.DeviceHandle, deviceID string) (Listing, error) {
	installed, err := handle.Apps(ctx)
	if err != nil {
		return Listing{}, err
	}

	favorites, err := s.store.ListFavorites(deviceID)
	if err != nil {
		log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to load favorites")
		favorites = nil
	}

	names := make(map[string]string, len(installed))
	for _, app := range installed {
		names[app.BundleID] = app.Name
	}

	s.fillMissingIcons(ctx, deviceID, favorites, names)

	favByBundle := make(map[string]store.FavoriteApp, len(favorites))
	for _, fav := range favorites {
		favByBundle[fav.BundleID] = fav
	}

	listing := Listing{
		AllApps:   make([]Entry, 0, len(installed)),
		Favorites: make([]Entry, 0, len(favorites)),
	}

	for _, app := range installed {
		entry := Entry{BundleID: app.BundleID, Name: app.Name}
		if fav, ok := favByBundle[app.BundleID]; ok {
			entry.IsFavorite = true
			entry.IconURL = fav.IconURL
		}
		listing.AllApps = append(listing.AllApps, entry)
	}

	for _, fav := range favorites {
		name := fav.DisplayName
		if installedName, ok := names[fav.BundleID]; ok && installedName != "" {
			name = installedName
		}
		listing.Favorites = append(listing.Favorites, Entry{
			BundleID:   fav.BundleID,
			Name:       name,
			IconURL:    fav.IconURL,
			IsFavorite: true,
		})
	}

	sortEntries(listing.AllApps)
	sortEntries(listing.Favorites)
	return listing, nil
}

// fillMissingIcons resolves icons for favorites that have none and
// persists what it finds. Lookup failures leave the favorite as is.
func (s *Service) fillMissingIcons(ctx context.Context, deviceID string, favorites []store.FavoriteApp, names map[string]string) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(iconResolveLimit)

	for i := range favorites {
		if favorites[i].IconURL != "" {
			continue
		}
		fav := &favorites[i]
		g.Go(func() error {
			name := fav.DisplayName
			if n, ok := names[fav.BundleID]; ok && n != "" {
				name = n
			}
			icon := s.icons.Resolve(gctx, fav.BundleID, name)
			if icon == "" {
				return nil
			}

			mu.Lock()
			fav.IconURL = icon
			mu.Unlock()

			if err := s.store.UpsertFavorite(*fav); err != nil {
				log.Warn().Err(err).Str("bundle_id", fav.BundleID).Msg("Failed to persist resolved icon")
			}
			return nil
		})
	}

	g.Wait()
}

// ToggleFavorite flips the favorite state of an app and reports the new
// state. Newly added favorites get an icon resolved best effort.
func (s *Service) ToggleFavorite(ctx context.Context, deviceID, bundleID, name string) (bool, error) {
	_, err := s.store.GetFavorite(deviceID, bundleID)
	switch {
	case err == nil:
		if err := s.store.RemoveFavorite(deviceID, bundleID); err != nil {
			return true, err
		}
		log.Info().Str("device_id", deviceID).Str("bundle_id", bundleID).Msg("Favorite removed")
		return false, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}

	fav := store.FavoriteApp{
		DeviceID:    deviceID,
		BundleID:    bundleID,
		DisplayName: name,
		IconURL:     s.icons.Resolve(ctx, bundleID, name),
	}
	if err := s.store.UpsertFavorite(fav); err != nil {
		return false, err
	}
	log.Info().Str("device_id", deviceID).Str("bundle_id", bundleID).Msg("Favorite added")
	return true, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].BundleID < entries[j].BundleID
	})
}
