package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
)

func TestInstallPrecachesShellAndCDN(t *testing.T) {
	upstream := newUpstream(t, nil)
	ctrl, storage, rt := newTestController(t, upstream, nil)

	if err := ctrl.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	if ctrl.State() != StateInstalled {
		t.Fatalf("expected installed, got %s", ctrl.State())
	}

	shell, _ := storage.Open(context.Background(), rt.Names.Shell)
	keys, _ := shell.Keys(context.Background())
	if len(keys) != len(rt.ShellAssets) {
		t.Fatalf("expected %d shell entries, got %d", len(rt.ShellAssets), len(keys))
	}
	root, err := shell.Match(context.Background(), fingerprint(t, upstream.URL+"/"))
	if err != nil || string(root.Body) != "asset:/" {
		t.Fatalf("root shell entry missing: %v", err)
	}

	api, _ := storage.Open(context.Background(), rt.Names.API)
	if _, err := api.Match(context.Background(), fingerprint(t, upstream.URL+"/cdn/chart.js")); err != nil {
		t.Fatalf("cdn asset should be precached: %v", err)
	}
}

func TestInstallFailsAtomicallyWhenShellAssetFails(t *testing.T) {
	upstream := newUpstream(t, map[string]int{"/manifest.json": http.StatusNotFound})
	ctrl, storage, rt := newTestController(t, upstream, nil)

	err := ctrl.Install(context.Background())
	if !errors.Is(err, ErrShellPrecache) {
		t.Fatalf("expected ErrShellPrecache, got %v", err)
	}
	if ctrl.State() != StateRedundant {
		t.Fatalf("expected redundant, got %s", ctrl.State())
	}
	shell, _ := storage.Open(context.Background(), rt.Names.Shell)
	keys, _ := shell.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("failed batch must not write any entry, got %d", len(keys))
	}
	if _, err := ctrl.Activate(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("activate after failed install should fail with ErrNotInstalled, got %v", err)
	}
}

func TestInstallSwallowsCDNFailures(t *testing.T) {
	upstream := newUpstream(t, map[string]int{"/cdn/chart.js": http.StatusInternalServerError})
	ctrl, storage, rt := newTestController(t, upstream, nil)

	if err := ctrl.Install(context.Background()); err != nil {
		t.Fatalf("cdn failure must not fail install: %v", err)
	}
	api, _ := storage.Open(context.Background(), rt.Names.API)
	keys, _ := api.Keys(context.Background())
	if len(keys) != 0 {
		t.Fatalf("failed cdn asset must not be stored, got %d", len(keys))
	}
}

func TestActivateDeletesObsoleteCachesAndClaimsClients(t *testing.T) {
	upstream := newUpstream(t, nil)
	claimer := &countingClaimer{clients: 2}
	ctrl, storage, rt := newTestController(t, upstream, claimer)
	ctx := context.Background()

	for _, stale := range []string{"iq-trainer-shell-1.0.0", "iq-trainer-images-1.0.0", "other-app"} {
		if _, err := storage.Open(ctx, stale); err != nil {
			t.Fatalf("open error: %v", err)
		}
	}
	if err := ctrl.Install(ctx); err != nil {
		t.Fatalf("install error: %v", err)
	}
	report, err := ctrl.Activate(ctx)
	if err != nil {
		t.Fatalf("activate error: %v", err)
	}
	if ctrl.State() != StateActive {
		t.Fatalf("expected active, got %s", ctrl.State())
	}
	if len(report.Deleted) != 3 || report.Claimed != 2 || claimer.calls.Load() != 1 {
		t.Fatalf("unexpected report: %+v (claims=%d)", report, claimer.calls.Load())
	}

	names, _ := storage.Names(ctx)
	for _, name := range names {
		if !rt.Names.Contains(name) {
			t.Fatalf("obsolete cache %s survived activate", name)
		}
	}
	sort.Strings(names)
	if len(names) != 2 {
		t.Fatalf("expected shell and api caches to remain, got %v", names)
	}

	if _, err := ctrl.Activate(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second activate should be rejected, got %v", err)
	}
}

func TestActivateBeforeInstall(t *testing.T) {
	ctrl, _, _ := newTestController(t, newUpstream(t, nil), nil)
	if _, err := ctrl.Activate(context.Background()); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if ctrl.State() != StateIdle {
		t.Fatalf("state should stay idle, got %s", ctrl.State())
	}
}

type countingClaimer struct {
	clients int
	calls   atomic.Int32
}

func (c *countingClaimer) Claim(context.Context) int {
	c.calls.Add(1)
	return c.clients
}

func newUpstream(t *testing.T, failures map[string]int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status, ok := failures[r.URL.Path]; ok {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("asset:" + r.URL.Path))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestController(t *testing.T, upstream *httptest.Server, clients ClientClaimer) (*Controller, cache.Storage, config.Runtime) {
	t.Helper()
	storage, err := cache.NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	rt, err := config.BuildRuntime(&config.Config{
		App: config.AppConfig{Name: "iq-trainer", Origin: upstream.URL, CacheVersion: "2.0.0"},
		Precache: config.PrecacheConfig{
			Shell: []string{"/", "/index.html", "/manifest.json"},
			CDN:   []string{upstream.URL + "/cdn/chart.js"},
		},
	})
	if err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	ctrl, err := New(Options{
		Fetcher: upstream.Client(),
		Storage: storage,
		Runtime: rt,
		Clients: clients,
	})
	if err != nil {
		t.Fatalf("controller error: %v", err)
	}
	return ctrl, storage, rt
}

func fingerprint(t *testing.T, rawURL string) cache.Fingerprint {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	return cache.FingerprintFor(req)
}
