package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"meshmap/server/internal/config"
	"meshmap/server/internal/keyring"
	"meshmap/server/internal/model"
	"meshmap/server/internal/store"
)

func newTestApp(t *testing.T, envKeys ...string) *App {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	markers, err := store.Open[model.LocationMarker](filepath.Join(dir, "markers.json"), logger)
	if err != nil {
		t.Fatalf("store.Open(markers) error = %v", err)
	}
	messages, err := store.Open[model.TextMessage](filepath.Join(dir, "messages.json"), logger)
	if err != nil {
		t.Fatalf("store.Open(messages) error = %v", err)
	}
	keys, err := keyring.Open(filepath.Join(dir, "config.json"), envKeys, logger)
	if err != nil {
		t.Fatalf("keyring.Open() error = %v", err)
	}

	return &App{
		cfg:      config.Config{MQTTTopic: "meshcore/#"},
		logger:   logger,
		keys:     keys,
		markers:  markers,
		messages: messages,
	}
}

func doJSON(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGetConfig(t *testing.T) {
	a := newTestApp(t, "beta", "alpha")

	rec := doJSON(t, a.routes(), http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		ChannelKeys []string `json:"channelKeys"`
		MQTTTopic   string   `json:"mqttTopic"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !reflect.DeepEqual(resp.ChannelKeys, []string{"alpha", "beta"}) {
		t.Fatalf("channelKeys = %v, want sorted [alpha beta]", resp.ChannelKeys)
	}
	if resp.MQTTTopic != "meshcore/#" {
		t.Fatalf("mqttTopic = %q", resp.MQTTTopic)
	}
}

func TestPostChannelKey(t *testing.T) {
	a := newTestApp(t)

	rec := doJSON(t, a.routes(), http.MethodPost, "/api/channel-keys", `{"key":" NewKey "}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ChannelKeys []string `json:"channelKeys"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !reflect.DeepEqual(resp.ChannelKeys, []string{"newkey"}) {
		t.Fatalf("channelKeys = %v, want [newkey]", resp.ChannelKeys)
	}
}

func TestPostChannelKeyRejectsEmpty(t *testing.T) {
	a := newTestApp(t)

	for _, body := range []string{`{"key":""}`, `{"key":"   "}`, `{}`} {
		rec := doJSON(t, a.routes(), http.MethodPost, "/api/channel-keys", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status for %s = %d, want 400", body, rec.Code)
		}
	}
}

func TestDeleteChannelKeyIsIdempotent(t *testing.T) {
	a := newTestApp(t, "alpha", "beta")

	for i := 0; i < 2; i++ {
		rec := doJSON(t, a.routes(), http.MethodDelete, "/api/channel-keys", `{"key":"alpha"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("delete pass %d status = %d, want 200", i+1, rec.Code)
		}

		var resp struct {
			ChannelKeys []string `json:"channelKeys"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if !reflect.DeepEqual(resp.ChannelKeys, []string{"beta"}) {
			t.Fatalf("delete pass %d channelKeys = %v, want [beta]", i+1, resp.ChannelKeys)
		}
	}
}

func TestGetMarkers(t *testing.T) {
	a := newTestApp(t)

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := a.markers.Append(model.LocationMarker{Lat: 1, Lon: 2, User: "u", Time: now, Topic: "t"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rec := doJSON(t, a.routes(), http.MethodGet, "/api/markers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Markers []model.LocationMarker `json:"markers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Markers) != 1 || resp.Markers[0].Lat != 1 || resp.Markers[0].Lon != 2 {
		t.Fatalf("markers = %+v", resp.Markers)
	}
}

func TestGetMessagesEmptyIsArray(t *testing.T) {
	a := newTestApp(t)

	rec := doJSON(t, a.routes(), http.MethodGet, "/api/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Fatalf("body = %s, want empty messages array", rec.Body.String())
	}
}

func TestMethodGuards(t *testing.T) {
	a := newTestApp(t)
	routes := a.routes()

	checks := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/markers"},
		{http.MethodPost, "/api/messages"},
		{http.MethodPut, "/api/channel-keys"},
		{http.MethodPost, "/api/config"},
	}
	for _, c := range checks {
		rec := doJSON(t, routes, c.method, c.target, "{}")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s status = %d, want 405", c.method, c.target, rec.Code)
		}
	}
}
