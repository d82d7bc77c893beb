package routes

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/feel-playground/feel-cache/internal/agent"
	"github.com/feel-playground/feel-cache/internal/cache"
	"github.com/feel-playground/feel-cache/internal/notify"
)

type staticReporter struct {
	status agent.Status
}

func (r staticReporter) Status() agent.Status {
	return r.status
}

func TestAgentRouteEncodesStatus(t *testing.T) {
	connected := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	app := fiber.New()
	RegisterAgentRoutes(app, staticReporter{status: agent.Status{
		State:   agent.StateActivated,
		Store:   "feel-playground-cache-v1",
		Version: "1.2.3",
		Claimed: 1,
		Clients: []notify.ClientInfo{{ID: "tab-1", Controller: "feel-playground-cache-v1", ConnectedAt: connected}},
		LastSeed: &cache.SeedReport{
			Seeded: []cache.Key{"http://origin.local/"},
			Failed: []cache.Key{"http://origin.local/logo.svg"},
		},
	}})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/agent", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var payload agentPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.State != "activated" || payload.Store != "feel-playground-cache-v1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.Clients) != 1 || payload.Clients[0].ConnectedAt != "2024-05-01T08:00:00Z" {
		t.Fatalf("unexpected clients %+v", payload.Clients)
	}
	if payload.Seed == nil || payload.Seed.Seeded != 1 || len(payload.Seed.Failed) != 1 {
		t.Fatalf("unexpected seed payload %+v", payload.Seed)
	}
	if payload.InstalledAt != "" {
		t.Fatalf("zero times should be omitted, got %q", payload.InstalledAt)
	}
}

func TestStreamEventsWritesRegisteredThenMessages(t *testing.T) {
	hub := notify.NewHub(4)
	sub, err := hub.Subscribe("tab-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := hub.Notify(t.Context(), "tab-1", notify.ResourceChanged("/a.js")); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sub.Close()

	var buf bytes.Buffer
	streamEvents(bufio.NewWriter(&buf), sub, time.Hour)

	frames := strings.Split(strings.TrimSpace(buf.String()), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %q", len(frames), buf.String())
	}
	if !strings.HasPrefix(frames[0], "event: client.registered\n") || !strings.Contains(frames[0], `"client_id":"tab-1"`) {
		t.Fatalf("unexpected registration frame %q", frames[0])
	}
	want := "event: resource.changed\ndata: {\"kind\":\"resource.changed\",\"url\":\"/a.js\"}"
	if frames[1] != want {
		t.Fatalf("unexpected change frame %q", frames[1])
	}
}

func TestWriteEventFailsOnBrokenWriter(t *testing.T) {
	w := bufio.NewWriterSize(failingWriter{}, 16)
	if err := writeEvent(w, notify.ResourceChanged("/a.js")); err == nil {
		t.Fatalf("expected write error")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, io.ErrClosedPipe
}
