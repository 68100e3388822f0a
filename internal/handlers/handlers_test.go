package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/auth"
	"github.com/Billy-Davies-2/ladder-bot/internal/clickhouse"
	"github.com/Billy-Davies-2/ladder-bot/internal/command"
	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	"github.com/Billy-Davies-2/ladder-bot/internal/history"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/mocks"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
	"github.com/Billy-Davies-2/ladder-bot/internal/registry"
)

type testAPI struct {
	mux   *http.ServeMux
	stats *mocks.MockClickHouseClient
	bus   *pubsub.PubSub
}

func newTestAPI(t *testing.T, withStats bool) *testAPI {
	t.Helper()

	gw := dal.NewMemoryDAL()
	bus := pubsub.New()
	api := &testAPI{mux: http.NewServeMux(), bus: bus}

	var stats clickhouse.Analytics
	opts := []history.Option{}
	if withStats {
		api.stats = mocks.NewMockClickHouseClient()
		stats = api.stats
		opts = append(opts, history.WithSink(api.stats))
	}
	hist := history.New(gw, opts...)
	reg := registry.New(gw, ladder.Options{Publisher: bus, History: hist})

	h := NewAPIHandlers(command.NewDispatcher(reg, hist), bus, stats)
	h.Routes(api.mux, auth.NewMockAuth().Middleware)
	return api
}

func (a *testAPI) command(t *testing.T, user, name string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(commandRequest{Channel: "general", Command: name, Params: params})
	req := httptest.NewRequest(http.MethodPost, "/api/command", bytes.NewReader(body))
	req.Header.Set(auth.UserHeader, user)
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) get(t *testing.T, user, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func mustOK(t *testing.T, rec *httptest.ResponseRecorder) command.Response {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp command.Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestCommandFlow(t *testing.T) {
	api := newTestAPI(t, true)

	mustOK(t, api.command(t, "alice", "init", nil))
	for _, p := range []string{"alice", "bob"} {
		mustOK(t, api.command(t, p, "register", nil))
	}
	mustOK(t, api.command(t, "bob", "challenge", map[string]string{"user": "alice"}))
	mustOK(t, api.command(t, "bob", "result", map[string]string{"outcome": "won"}))

	resp := mustOK(t, api.get(t, "carol", "/api/standings?channel=general"))
	if resp.Text != "Standings:\n1. bob\n2. alice" {
		t.Errorf("unexpected standings %q", resp.Text)
	}

	resp = mustOK(t, api.get(t, "carol", "/api/history?channel=general&length=5"))
	if !strings.Contains(resp.Text, "bob won") {
		t.Errorf("unexpected history %q", resp.Text)
	}

	rec := api.get(t, "carol", "/api/stats?channel=general&player=bob")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", rec.Code, rec.Body.String())
	}
	var stats clickhouse.PlayerStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Matches != 1 || stats.Wins != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCommandErrors(t *testing.T) {
	api := newTestAPI(t, false)

	rec := api.get(t, "alice", "/api/standings?channel=general")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before init, got %d", rec.Code)
	}
	if body := decodeError(t, rec); body.Error != "NOT_INITIALIZED" {
		t.Errorf("unexpected error body %+v", body)
	}

	mustOK(t, api.command(t, "alice", "init", nil))

	rec = api.command(t, "bob", "init", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a second init, got %d", rec.Code)
	}

	rec = api.command(t, "bob", "move", map[string]string{"user": "alice", "position": "1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-admin move, got %d", rec.Code)
	}

	rec = api.command(t, "bob", "dance", nil)
	if body := decodeError(t, rec); rec.Code != http.StatusBadRequest || body.Error != "UNKNOWN_COMMAND" {
		t.Errorf("expected UNKNOWN_COMMAND, got %d %+v", rec.Code, body)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader("{not json"))
	req.Header.Set(auth.UserHeader, "bob")
	rec = httptest.NewRecorder()
	api.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", rec.Code)
	}

	rec = api.get(t, "bob", "/api/standings")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a channel, got %d", rec.Code)
	}

	rec = api.get(t, "", "/api/standings?channel=general")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a caller, got %d", rec.Code)
	}

	rec = api.get(t, "bob", "/api/stats?channel=general&player=bob")
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without analytics, got %d", rec.Code)
	}
}

func TestHelpIsPublic(t *testing.T) {
	api := newTestAPI(t, false)
	resp := mustOK(t, api.get(t, "", "/api/help"))
	if !strings.Contains(resp.Text, "challenge") {
		t.Errorf("unexpected help %q", resp.Text)
	}
}

func TestEventsSSE(t *testing.T) {
	api := newTestAPI(t, false)
	srv := httptest.NewServer(api.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events?channel=general", nil)
	req.Header.Set(auth.UserHeader, "watcher")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || !strings.Contains(lines.Text(), "connected") {
		t.Fatalf("expected a connected message, got %q", lines.Text())
	}

	// an event from another channel must be filtered out
	api.bus.Publish(pubsub.Event{Type: pubsub.TournamentCreated, Tournament: "random/" + string(models.ModeLadder1v1)})
	mustOK(t, api.command(t, "alice", "init", nil))

	for lines.Scan() {
		line := lines.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev pubsub.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		if ev.Tournament != "general/Ladder1v1" || ev.Type != pubsub.TournamentCreated {
			t.Fatalf("unexpected event %+v", ev)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", lines.Err())
}

func TestHealth(t *testing.T) {
	h := NewHealth(map[string]Check{
		"gateway": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready, got %d", rec.Code)
	}

	h = NewHealth(map[string]Check{
		"gateway": func(context.Context) error { return nil },
		"nats":    func(context.Context) error { return errors.New("disconnected") },
	})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "disconnected") {
		t.Fatalf("expected unavailable, got %d %s", rec.Code, rec.Body.String())
	}

	h.Drain()
	rec = httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness should not depend on draining, got %d", rec.Code)
	}
}
