// Package http serves the browser-facing API: state snapshots, push-event
// intake, playback commands, catalog lookups, health and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"playdeck/internal/core"
	"playdeck/internal/player"
)

const shutdownTimeout = 10 * time.Second

// PlayerControl is the command surface of the playback controller.
type PlayerControl interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, percent int) error
	ToggleShuffle(ctx context.Context, enabled bool) error
	SetRepeat(ctx context.Context, mode core.RepeatMode) error
	TransferPlayback(ctx context.Context, deviceID string) error
	EnableTrueShuffle(ctx context.Context) (player.TrueShuffleStatus, error)
	DisableTrueShuffle(ctx context.Context) error
	TrueShuffle() (player.TrueShuffleStatus, bool)
}

// StateSource exposes the playback state store.
type StateSource interface {
	GetState() core.PlaybackState
	Pending() []core.Field
}

// EventSink accepts pushed player states.
type EventSink interface {
	Publish(patch *core.Patch) error
}

// Catalog serves search and listing lookups.
type Catalog interface {
	Search(ctx context.Context, q core.SearchQuery) (core.SearchResult, error)
	UserPlaylists(ctx context.Context, limit, offset int) (core.PlaylistPage, error)
	Devices(ctx context.Context) ([]core.Device, error)
	Queue(ctx context.Context) (core.Queue, error)
}

type Deps struct {
	Player  PlayerControl
	State   StateSource
	Events  EventSink
	Catalog Catalog
}

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
}

func NewServer(config *core.ServerConfig, deps Deps, metrics *Metrics, logger *zap.Logger) *Server {
	mux := setupRoutes(deps, metrics, logger)

	return &Server{
		config: config,
		logger: logger,
		server: createHTTPServer(config, mux),
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(deps Deps, metrics *Metrics, logger *zap.Logger) *http.ServeMux {
	h := &handlers{deps: deps, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok", "service": "playdeck"})
	})
	mux.HandleFunc("GET /readyz", h.ready)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/state", h.state)
	mux.HandleFunc("POST /api/events/player", h.playerEvent)

	mux.HandleFunc("POST /api/player/play", h.command(PlayerControl.Play))
	mux.HandleFunc("POST /api/player/pause", h.command(PlayerControl.Pause))
	mux.HandleFunc("POST /api/player/next", h.command(PlayerControl.Next))
	mux.HandleFunc("POST /api/player/previous", h.command(PlayerControl.Previous))
	mux.HandleFunc("PUT /api/player/seek", h.seek)
	mux.HandleFunc("PUT /api/player/volume", h.volume)
	mux.HandleFunc("PUT /api/player/shuffle", h.shuffle)
	mux.HandleFunc("PUT /api/player/repeat", h.repeat)
	mux.HandleFunc("PUT /api/player/device", h.device)
	mux.HandleFunc("POST /api/player/true-shuffle", h.enableTrueShuffle)
	mux.HandleFunc("DELETE /api/player/true-shuffle", h.disableTrueShuffle)

	mux.HandleFunc("GET /api/search", h.search)
	mux.HandleFunc("GET /api/playlists", h.playlists)
	mux.HandleFunc("GET /api/devices", h.devices)
	mux.HandleFunc("GET /api/queue", h.queue)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(indexPage)); err != nil {
			logger.Debug("Failed to write index page", zap.Error(err))
		}
	})

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
    <title>playdeck</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">playdeck</h1>
    <p>Spotify playback core</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/api/state">State</a> - current playback snapshot</div>
    <div class="endpoint"><a href="/api/devices">Devices</a> - available Connect devices</div>
    <div class="endpoint"><a href="/api/queue">Queue</a> - upcoming tracks</div>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`
