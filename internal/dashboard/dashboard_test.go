package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pharmacore/localsync/internal/monitor"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/sync"
)

type fakeState struct{ online bool }

func (f fakeState) State() monitor.State { return monitor.State{Online: f.online, Known: true} }

type fakeStats struct{ err error }

func (f fakeStats) Stats(ctx context.Context) (db.Stats, error) {
	if f.err != nil {
		return db.Stats{}, f.err
	}
	return db.Stats{TenantID: "acme", Inventory: db.CollectionStats{Total: 4, Unsynced: 1}}, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func startServer(t *testing.T, stats StatsSource) (*Server, *Handler) {
	t.Helper()
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()}, nil)
	handler := NewHandler(server, fakeState{online: true}, stats, quietLogger())

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server, handler
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()}, nil)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if server.Addr() == "127.0.0.1:0" {
		t.Error("Addr() should report the bound port")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocket_WelcomeAndStatus(t *testing.T) {
	server, handler := startServer(t, fakeStats{})
	conn := dial(t, server)

	welcome := readMessage(t, conn)
	if welcome.Type != MessageTypeState {
		t.Fatalf("welcome type = %s, want state", welcome.Type)
	}
	var st StateData
	if err := json.Unmarshal(welcome.Data, &st); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if !st.Monitor.Online || st.Stats == nil || st.Stats.Inventory.Total != 4 {
		t.Errorf("state = %+v", st)
	}

	// The client is registered once the welcome is written.
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	handler.OnStatus(sync.Status{Kind: sync.StatusSyncing, Strategy: sync.StrategySummary, Timestamp: at})
	handler.OnStatus(sync.Status{Kind: sync.StatusSuccess, SyncedCount: 3, Timestamp: at.Add(time.Second)})

	first := readMessage(t, conn)
	if first.Type != MessageTypeStatus || !first.Timestamp.Equal(at) {
		t.Errorf("first message = %+v", first)
	}
	var ev sync.Status
	_ = json.Unmarshal(first.Data, &ev)
	if ev.Kind != sync.StatusSyncing || ev.Strategy != sync.StrategySummary {
		t.Errorf("first event = %+v", ev)
	}

	second := readMessage(t, conn)
	_ = json.Unmarshal(second.Data, &ev)
	if second.Type != MessageTypeStatus || ev.Kind != sync.StatusSuccess || ev.SyncedCount != 3 {
		t.Errorf("second message = %+v (%+v)", second, ev)
	}

	if third := readMessage(t, conn); third.Type != MessageTypeStats {
		t.Errorf("third message type = %s, want stats", third.Type)
	}
}

func TestHandler_Run(t *testing.T) {
	server, handler := startServer(t, nil)
	conn := dial(t, server)
	readMessage(t, conn) // welcome

	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus := sync.NewBus()
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		handler.Run(context.Background(), sub)
		close(done)
	}()

	bus.Publish(sync.Status{Kind: sync.StatusOffline})
	msg := readMessage(t, conn)
	var ev sync.Status
	_ = json.Unmarshal(msg.Data, &ev)
	if ev.Kind != sync.StatusOffline {
		t.Errorf("event = %+v, want offline", ev)
	}

	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the bus closed")
	}
}

func TestHTTPEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		stats    StatsSource
		path     string
		wantCode int
	}{
		{"health", fakeStats{}, "/health", http.StatusOK},
		{"state", fakeStats{}, "/state", http.StatusOK},
		{"state with failing store", fakeStats{err: errors.New("store is closed")}, "/state", http.StatusServiceUnavailable},
		{"root", fakeStats{}, "/", http.StatusOK},
		{"unknown", fakeStats{}, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&Config{Logger: quietLogger()}, nil)
			NewHandler(server, fakeState{}, tt.stats, quietLogger())

			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.wantCode)
			}
		})
	}
}

func TestStop_DisconnectsClients(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quietLogger()}, nil)
	NewHandler(server, fakeState{}, fakeStats{}, quietLogger())
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	conn := dial(t, server)
	readMessage(t, conn) // welcome

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if n := server.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d after Stop, want 0", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("Read() should fail once the server stopped")
	}

	server.Broadcast(Message{Type: MessageTypeStatus}) // no clients, no panic
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
