package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"meshmap/server/internal/config"
	"meshmap/server/internal/droplog"
	"meshmap/server/internal/keyring"
	"meshmap/server/internal/meshcore"
	"meshmap/server/internal/model"
	"meshmap/server/internal/mqttclient"
	"meshmap/server/internal/pipeline"
	"meshmap/server/internal/store"
)

const pruneInterval = time.Hour

// App wires together the meshmap services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	keys     *keyring.Registry
	markers  *store.Log[model.LocationMarker]
	messages *store.Log[model.TextMessage]
	drops    *droplog.Store
	mqtt     *mqttclient.Client
	mdns     *zeroconf.Server
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	markers, err := store.Open[model.LocationMarker](a.cfg.MarkerLogPath, a.logger)
	if err != nil {
		return err
	}
	a.markers = markers

	messages, err := store.Open[model.TextMessage](a.cfg.MessageLogPath, a.logger)
	if err != nil {
		return err
	}
	a.messages = messages

	keys, err := keyring.Open(a.cfg.ConfigPath, a.cfg.ChannelKeys, a.logger)
	if err != nil {
		return err
	}
	a.keys = keys

	drops, err := droplog.Open(a.cfg.DropLogDBPath)
	if err != nil {
		return err
	}
	a.drops = drops

	if err := a.drops.InitSchema(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.drops.Close(); cerr != nil {
			a.logger.Error("close drop log", "error", cerr)
		}
	}()

	pl := pipeline.New(a.logger, a.keys, a.markers, a.messages, a.drops, meshcore.PacketDecoder{})

	if brokerURL := a.cfg.BrokerURL(); brokerURL != "" {
		a.mqtt = mqttclient.New(mqttclient.Options{
			BrokerURL: brokerURL,
			Topic:     a.cfg.MQTTTopic,
			Username:  a.cfg.MQTTUsername,
			Password:  a.cfg.MQTTPassword,
		}, a.logger, func(msg mqttclient.Message) {
			pl.Handle(ctx, msg.Topic, msg.Payload)
		})
		a.mqtt.Start()
		defer a.mqtt.Stop()
	} else {
		a.logger.Warn("no MQTT settings found, set MESHCORE_MQTT_URL or MQTT_BROKER; ingestion disabled")
	}

	if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
		a.logger.Warn("mDNS advertisement failed", "error", err)
	}
	defer a.stopMDNS()

	a.pruneAll(ctx)
	go a.pruneLoop(ctx)

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler: a.routes(),
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		a.logger.Info("http server stopped")
		return nil
	case err := <-httpErrCh:
		return err
	}
}

// pruneLoop shrinks the stores hourly so they stay bounded even during quiet
// periods with no ingestion traffic.
func (a *App) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pruneAll(ctx)
		}
	}
}

func (a *App) pruneAll(ctx context.Context) {
	if err := a.markers.Prune(); err != nil {
		a.logger.Error("prune markers", "error", err)
	}
	if err := a.messages.Prune(); err != nil {
		a.logger.Error("prune messages", "error", err)
	}

	pruneCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.drops.PruneBefore(pruneCtx, time.Now().Add(-store.Retention)); err != nil {
		a.logger.Error("prune drop log", "error", err)
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/markers", a.handleMarkers)
	mux.HandleFunc("/api/messages", a.handleMessages)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/channel-keys", a.handleChannelKeys)
	mux.HandleFunc("/api/ingest/drops", a.handleDrops)
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		http.StripPrefix("/static/", http.FileServer(http.Dir("web"))).ServeHTTP(w, r)
	})
	mux.HandleFunc("/", a.handleIndex)

	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.markers == nil || a.messages == nil || a.keys == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleMarkers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := a.markers.Snapshot()
	if err != nil {
		// The snapshot itself is still valid; only the prune persist failed.
		a.logger.Error("marker prune persist failed", "error", err)
	}

	response := struct {
		Markers []model.LocationMarker `json:"markers"`
	}{Markers: snapshot}

	writeJSON(w, a.logger, response)
}

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshot, err := a.messages.Snapshot()
	if err != nil {
		a.logger.Error("message prune persist failed", "error", err)
	}

	response := struct {
		Messages []model.TextMessage `json:"messages"`
	}{Messages: snapshot}

	writeJSON(w, a.logger, response)
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := struct {
		ChannelKeys []string `json:"channelKeys"`
		MQTTTopic   string   `json:"mqttTopic"`
	}{
		ChannelKeys: a.keys.Snapshot(),
		MQTTTopic:   a.cfg.MQTTTopic,
	}

	writeJSON(w, a.logger, response)
}

func (a *App) handleChannelKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if keyring.Normalize(req.Key) == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"key is required"}`))
		return
	}

	var err error
	if r.Method == http.MethodPost {
		err = a.keys.Add(req.Key)
	} else {
		err = a.keys.Remove(req.Key)
	}
	if err != nil {
		a.logger.Error("failed to persist channel keys", "error", err)
		http.Error(w, "failed to persist config", http.StatusInternalServerError)
		return
	}

	response := struct {
		ChannelKeys []string `json:"channelKeys"`
	}{ChannelKeys: a.keys.Snapshot()}

	writeJSON(w, a.logger, response)
}

func (a *App) handleDrops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.drops == nil {
		http.Error(w, "drop log not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= 500 {
				limit = parsed
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	drops, err := a.drops.Recent(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load dropped events", "error", err)
		http.Error(w, "failed to load dropped events", http.StatusInternalServerError)
		return
	}

	response := struct {
		Drops []model.DroppedEvent `json:"drops"`
	}{Drops: drops}

	writeJSON(w, a.logger, response)
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	fileServer := http.FileServer(http.Dir("web"))
	fileServer.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
