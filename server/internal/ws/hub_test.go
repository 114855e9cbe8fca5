package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/ingest"
	wsHub "github.com/fieldgrid/fieldgrid/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

type gauge struct {
	mu   sync.Mutex
	last int
}

func (g *gauge) ClientsChanged(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// startHub serves the hub on /ws/projects/{id}/events and returns the
// ws:// base URL.
func startHub(t *testing.T, rec wsHub.Recorder) (string, *wsHub.Hub, context.CancelFunc) {
	t.Helper()

	hub := wsHub.New(rec)
	ctx, cancel := context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.Handle("GET /ws/projects/{id}/events", hub)
	srv := httptest.NewServer(mux)
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancel
}

func dial(t *testing.T, base, project string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/projects/"+project+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func commit(project, key string, created int) ingest.Commit {
	ids := make([]string, created)
	for i := range ids {
		ids[i] = key + "-" + string(rune('a'+i))
	}
	return ingest.Commit{Outcome: types.BatchOutcome{
		ProjectID:      project,
		IdempotencyKey: key,
		Created:        ids,
		Counts:         types.StatusCounts{Pass: created},
		Actor:          "tech-1",
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesSubscribed(t *testing.T) {
	base, _, _ := startHub(t, nil)
	conn := dial(t, base, "p1")

	m := readMessage(t, conn)
	if m.Event != "subscribed" || m.ProjectID != "p1" {
		t.Errorf("got %+v, want subscribed p1", m)
	}
}

func TestHub_BatchCommitted_ReachesProjectSubscribers(t *testing.T) {
	base, hub, _ := startHub(t, nil)
	c1 := dial(t, base, "p1")
	c2 := dial(t, base, "p2")
	readMessage(t, c1)
	readMessage(t, c2)
	waitFor(t, func() bool { return hub.Count() == 2 })

	hub.BatchCommitted(context.Background(), commit("p2", "k-other", 1))
	hub.BatchCommitted(context.Background(), commit("p1", "k1", 3))

	m := readMessage(t, c1)
	if m.Event != "batch.committed" {
		t.Fatalf("event: got %q", m.Event)
	}
	if m.Data == nil || m.Data.IdempotencyKey != "k1" || m.Data.Created != 3 {
		t.Errorf("data: got %+v", m.Data)
	}
	if m.Data.Counts.Pass != 3 || m.Data.Actor != "tech-1" {
		t.Errorf("data: got %+v", m.Data)
	}

	m = readMessage(t, c2)
	if m.Data == nil || m.Data.IdempotencyKey != "k-other" {
		t.Errorf("p2 data: got %+v", m.Data)
	}
}

func TestHub_CountClients(t *testing.T) {
	g := &gauge{}
	base, hub, _ := startHub(t, g)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, base, "p1")
		readMessage(t, conns[i])
	}
	waitFor(t, func() bool { return hub.Count() == 3 })
	if g.value() != 3 {
		t.Errorf("recorded clients: got %d, want 3", g.value())
	}

	conns[0].Close()
	waitFor(t, func() bool { return hub.Count() == 2 })
	waitFor(t, func() bool { return g.value() == 2 })
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	base, hub, cancel := startHub(t, nil)
	conn := dial(t, base, "p1")
	readMessage(t, conn)
	waitFor(t, func() bool { return hub.Count() == 1 })

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after shutdown")
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("Count after shutdown: got %d, want 0", n)
	}
}

func TestHub_BatchCommitted_NeverBlocks(t *testing.T) {
	// No Run loop: the queue fills and further events are dropped.
	hub := wsHub.New(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.BatchCommitted(context.Background(), commit("p1", "k", 1))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("BatchCommitted blocked")
	}
}
