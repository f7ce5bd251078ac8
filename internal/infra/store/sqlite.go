// Package store provides the durable SQLite store for paired-device
// credentials and favorite apps.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the store database.
	DefaultDBPath = "data/beacon.db"
)

// DB represents the SQLite store database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new store database instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{
		path: path,
	}
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Ensure directory exists
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open store database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Store database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// DB returns the underlying sql.DB, or nil when the store is not open.
func (d *DB) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// initSchema initializes the database schema.
func (d *DB) initSchema() error {
	currentVersion := d.getSchemaVersion()

	if currentVersion == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Warn().
			Str("current", currentVersion).
			Str("expected", CurrentSchemaVersion).
			Msg("Schema version mismatch, recreating store")
		if err := d.dropSchema(); err != nil {
			return err
		}
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	return nil
}

// createSchema creates all tables.
func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT NOT NULL,
		protocol TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		credentials TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (device_id, protocol)
	);

	CREATE TABLE IF NOT EXISTS favorite_apps (
		device_id TEXT NOT NULL,
		bundle_id TEXT NOT NULL,
		display_name TEXT NOT NULL,
		icon_url TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (device_id, bundle_id)
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// dropSchema drops all tables.
func (d *DB) dropSchema() error {
	_, err := d.db.Exec(`
		DROP TABLE IF EXISTS devices;
		DROP TABLE IF EXISTS favorite_apps;
		DROP TABLE IF EXISTS meta;
	`)
	return err
}

// getSchemaVersion returns the stored schema version, empty on a fresh DB.
func (d *DB) getSchemaVersion() string {
	var version string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

// setMeta stores a key/value pair in the meta table.
func (d *DB) setMeta(key, value string) error {
	_, err := d.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = ?
	`, key, value, value)
	return err
}
