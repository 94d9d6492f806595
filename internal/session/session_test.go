package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/pharmacore/localsync/internal/config"
	"github.com/pharmacore/localsync/internal/logging"
	"github.com/pharmacore/localsync/internal/monitor"
	"github.com/pharmacore/localsync/internal/store/db"
	"github.com/pharmacore/localsync/internal/store/schema"
	"github.com/pharmacore/localsync/internal/sync"
	"github.com/pharmacore/localsync/internal/sync/transport"
)

// remote acknowledges every submitted id and counts requests per path.
type remote struct {
	mu   gosync.Mutex
	hits map[string]int
	srv  *httptest.Server
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{hits: make(map[string]int)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.hits[req.URL.Path]++
		r.mu.Unlock()

		if req.URL.Path == transport.EndpointHealth {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, _ := io.ReadAll(req.Body)
		ids := []string{}
		gjson.ParseBytes(body).ForEach(func(_, batch gjson.Result) bool {
			for _, rec := range batch.Array() {
				if id := rec.Get("id"); id.Exists() {
					ids = append(ids, id.String())
				}
			}
			return true
		})
		ack, _ := sjson.SetBytes([]byte(`{}`), "acknowledgedIds", ids)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(ack)
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *remote) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.New(filepath.Join(t.TempDir(), "missing.toml")))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	cfg.DataDir = t.TempDir()
	cfg.TenantID = "acme"
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.RetryDelay = 0
	cfg.Sync.SettleDelay = 0
	return cfg
}

func quietSink() *logging.Sink { return logging.NewSink(logging.Options{Quiet: true}) }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpen_StartSyncsPendingSummaries(t *testing.T) {
	r := newRemote(t)
	s, err := Open(context.Background(), Options{Config: testConfig(t, r.srv.URL), Sink: quietSink()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if s.TenantID != "acme" || !s.Store.Ready() {
		t.Fatalf("session = %s, ready %v", s.TenantID, s.Store.Ready())
	}

	_, err = s.Store.SaveDailySummary(context.Background(), &schema.DailySalesSummary{
		Date:               "2025-03-14",
		TotalSales:         decimal.NewFromInt(12),
		TotalTransactions:  2,
		CashSales:          decimal.NewFromInt(12),
		MobileMoneySales:   decimal.Zero,
		AverageTransaction: decimal.NewFromInt(6),
	})
	if err != nil {
		t.Fatalf("SaveDailySummary() failed: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !s.Monitor.Online() {
		t.Error("Online() = false after a successful initial probe")
	}
	if !s.Coordinator.AutoSyncEnabled() {
		t.Error("auto-sync should be enabled after Start")
	}

	waitFor(t, "summary sync", func() bool {
		pending, _, err := s.Store.UnsyncedSummaries(context.Background())
		return err == nil && len(pending) == 0
	})
	if r.Hits(transport.EndpointSummaries) == 0 {
		t.Error("remote never received summaries")
	}
}

func TestOpen_TenantOverrideAndSharedManager(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r.srv.URL)
	manager := db.NewManager(cfg.DataDir, quietSink().Logger("store"))
	defer manager.TeardownAll()

	s, err := Open(context.Background(), Options{
		Config:   cfg,
		TenantID: "branch-2",
		Sink:     quietSink(),
		Manager:  manager,
		Prober:   monitor.ProberFunc(func(ctx context.Context) error { return nil }),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if s.TenantID != "branch-2" || s.Store.TenantID() != "branch-2" {
		t.Errorf("tenant = %s/%s, want branch-2", s.TenantID, s.Store.TenantID())
	}
	if got, ok := manager.Store("branch-2"); !ok || got != s.Store {
		t.Error("store should be registered in the shared manager")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, ok := manager.Store("branch-2"); ok {
		t.Error("Close() should tear down the tenant store")
	}
}

func TestOpen_InvalidTenant(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	_, err := Open(context.Background(), Options{Config: cfg, TenantID: "../etc", Sink: quietSink()})
	if err == nil {
		t.Fatal("Open() with an invalid tenant should fail")
	}
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Error("Open() without config should fail")
	}
}

func TestClose_LogoutTeardown(t *testing.T) {
	r := newRemote(t)
	s, err := Open(context.Background(), Options{Config: testConfig(t, r.srv.URL), Sink: quietSink()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	if s.Store.Ready() {
		t.Error("store should be closed after logout")
	}
	if s.Coordinator.AutoSyncEnabled() {
		t.Error("auto-sync should be stopped after logout")
	}
	if res := s.Coordinator.Sync(context.Background(), sync.StrategyFull); res.Success {
		t.Error("Sync() after logout should fail")
	}
}

func TestStart_PublishesConnectivity(t *testing.T) {
	r := newRemote(t)
	s, err := Open(context.Background(), Options{Config: testConfig(t, r.srv.URL), Sink: quietSink()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	sub := s.Coordinator.Subscribe()
	defer sub.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind == sync.StatusOnline {
				return
			}
		case <-timeout:
			t.Fatal("no online event after Start")
		}
	}
}

func TestStart_OfflineSkipsSync(t *testing.T) {
	r := newRemote(t)
	s, err := Open(context.Background(), Options{
		Config: testConfig(t, r.srv.URL),
		Sink:   quietSink(),
		Prober: monitor.ProberFunc(func(ctx context.Context) error {
			return context.DeadlineExceeded
		}),
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := r.Hits(transport.EndpointSummaries); n != 0 {
		t.Errorf("summary submissions while offline = %d, want 0", n)
	}
	if s.Monitor.Online() {
		t.Error("Online() = true with a failing prober")
	}
}

func TestApplyConfig_UpdatesInterval(t *testing.T) {
	r := newRemote(t)
	cfg := testConfig(t, r.srv.URL)
	s, err := Open(context.Background(), Options{Config: cfg, Sink: quietSink()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	next := *cfg
	next.Sync.Interval = 2 * time.Minute
	s.ApplyConfig(&next)

	if got := s.Coordinator.Interval(); got != 2*time.Minute {
		t.Errorf("Interval() = %v, want 2m", got)
	}
	if s.Config().Sync.Interval != 2*time.Minute {
		t.Error("Config() should return the applied configuration")
	}
	if s.RetentionDays() != 90 {
		t.Errorf("RetentionDays() = %d, want 90", s.RetentionDays())
	}
}
