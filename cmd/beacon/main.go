// Package main is the entry point for the Beacon TV remote backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/apps"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/nowplaying"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/pairing"
	"github.com/mlanders/beacon-tv-remote-backend/internal/domain/registry"
	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/iconlookup"
	"github.com/mlanders/beacon-tv-remote-backend/internal/infra/store"
	"github.com/mlanders/beacon-tv-remote-backend/internal/provider/go2tvcast"
	"github.com/mlanders/beacon-tv-remote-backend/internal/transport/ws"
	"github.com/mlanders/beacon-tv-remote-backend/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "3000", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path (default data/beacon.db)")
	staticDir := flag.String("static", "", "Directory to serve static files from (optional)")
	scanTimeout := flag.Duration("scan-timeout", registry.DefaultScanTimeout, "Device discovery scan window")
	pollInterval := flag.Duration("poll-interval", nowplaying.DefaultPollInterval, "Now-playing poll interval")
	maxExternal := flag.Int("max-external-conns", ws.DefaultMaxExternalConns, "Maximum concurrent non-localhost clients")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  TV Remote Control Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Dur("scan_timeout", *scanTimeout).
		Dur("poll_interval", *pollInterval).
		Int("max_external_conns", *maxExternal).
		Msg("Configuration")

	// Open the credential store
	db := store.NewDB(*dbPath)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	dao := store.NewDAO(db)

	// Device provider and domain services
	prov := go2tvcast.New()
	reg := registry.NewService(prov, dao, registry.NewCache(), registry.WithScanTimeout(*scanTimeout))
	icons := iconlookup.NewClient()
	appSvc := apps.NewService(dao, icons)

	wsServer := ws.NewServer(ws.Config{
		Registry:         reg,
		NewPairing:       func() ws.Pairing { return pairing.NewFlow(prov, dao, reg.Cache()) },
		Connector:        prov,
		Store:            dao,
		Apps:             appSvc,
		MaxExternalConns: *maxExternal,
		ReconcilerOptions: []nowplaying.Option{
			nowplaying.WithPollInterval(*pollInterval),
		},
	})
	defer wsServer.CloseAll()

	// Setup HTTP server
	mux := http.NewServeMux()

	// Client connection endpoint
	mux.HandleFunc("/ws", wsServer.HandleWS)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.DB().Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","db":"disconnected"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","db":"connected"}`))
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})

	// Serve static files if directory specified (SPA mode)
	if *staticDir != "" {
		log.Info().Str("dir", *staticDir).Msg("Serving static files")
		fs := http.FileServer(http.Dir(*staticDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *staticDir + r.URL.Path
			if r.URL.Path == "/" {
				path = *staticDir + "/index.html"
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// For SPA routing, serve index.html for non-existing paths
				http.ServeFile(w, r, *staticDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	server := &http.Server{
		Addr:        ":" + *port,
		Handler:     corsMiddleware(mux),
		ReadTimeout: 30 * time.Second,
		// WriteTimeout stays unset: /ws connections are long-lived.
	}

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}

		log.Info().Msg("Shutting down...")
		wsServer.CloseAll()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
