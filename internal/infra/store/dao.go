package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DAO provides data access operations for the store.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

// --- Device Operations ---

// UpsertDevice inserts or replaces the credential record for one
// (device_id, protocol) pair. The upsert is atomic, so concurrent pairing
// completions for the same key cannot corrupt the record.
func (dao *DAO) UpsertDevice(rec DeviceRecord) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	now := time.Now().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO devices (device_id, protocol, name, address, credentials, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, protocol) DO UPDATE SET
			name = ?, address = ?, credentials = ?, updated_at = ?
	`,
		rec.DeviceID, rec.Protocol, rec.Name, rec.Address, rec.Credentials, now,
		rec.Name, rec.Address, rec.Credentials, now,
	)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}

	log.Info().
		Str("device_id", rec.DeviceID).
		Str("protocol", rec.Protocol).
		Str("name", rec.Name).
		Msg("Device credentials saved")
	return nil
}

// ListDevices returns every stored pairing record.
func (dao *DAO) ListDevices() ([]DeviceRecord, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(`
		SELECT device_id, protocol, name, address, COALESCE(credentials, '')
		FROM devices
		ORDER BY device_id, protocol
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		if err := rows.Scan(&rec.DeviceID, &rec.Protocol, &rec.Name, &rec.Address, &rec.Credentials); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteDevice removes all protocol records for a device.
func (dao *DAO) DeleteDevice(deviceID string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	res, err := db.Exec(`DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil {
		log.Info().Str("device_id", deviceID).Int64("records", n).Msg("Device records deleted")
	}
	return nil
}

// --- Favorite App Operations ---

// UpsertFavorite inserts or updates a favorite-app record.
func (dao *DAO) UpsertFavorite(fav FavoriteApp) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	now := time.Now().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO favorite_apps (device_id, bundle_id, display_name, icon_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id, bundle_id) DO UPDATE SET
			display_name = ?, icon_url = COALESCE(NULLIF(?, ''), favorite_apps.icon_url), updated_at = ?
	`,
		fav.DeviceID, fav.BundleID, fav.DisplayName, fav.IconURL, now,
		fav.DisplayName, fav.IconURL, now,
	)
	if err != nil {
		return fmt.Errorf("upsert favorite: %w", err)
	}
	return nil
}

// RemoveFavorite deletes a favorite-app record.
func (dao *DAO) RemoveFavorite(deviceID, bundleID string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec(`DELETE FROM favorite_apps WHERE device_id = ? AND bundle_id = ?`, deviceID, bundleID)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ListFavorites returns all favorite apps for a device.
func (dao *DAO) ListFavorites(deviceID string) ([]FavoriteApp, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(`
		SELECT device_id, bundle_id, display_name, COALESCE(icon_url, '')
		FROM favorite_apps
		WHERE device_id = ?
		ORDER BY display_name
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	var favs []FavoriteApp
	for rows.Next() {
		var fav FavoriteApp
		if err := rows.Scan(&fav.DeviceID, &fav.BundleID, &fav.DisplayName, &fav.IconURL); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favs = append(favs, fav)
	}
	return favs, rows.Err()
}

// GetFavorite returns one favorite record, or sql.ErrNoRows when absent.
func (dao *DAO) GetFavorite(deviceID, bundleID string) (FavoriteApp, error) {
	db := dao.db.DB()
	if db == nil {
		return FavoriteApp{}, fmt.Errorf("database not open")
	}

	var fav FavoriteApp
	err := db.QueryRow(`
		SELECT device_id, bundle_id, display_name, COALESCE(icon_url, '')
		FROM favorite_apps
		WHERE device_id = ? AND bundle_id = ?
	`, deviceID, bundleID).Scan(&fav.DeviceID, &fav.BundleID, &fav.DisplayName, &fav.IconURL)
	if err != nil {
		return FavoriteApp{}, err
	}
	return fav, nil
}

// sql.ErrNoRows re-export keeps callers from importing database/sql just
// for the sentinel.
var ErrNotFound = sql.ErrNoRows
