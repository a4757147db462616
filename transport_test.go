package gooffline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gooffline "github.com/dgduncan/go-offline-cache"
	"github.com/dgduncan/go-offline-cache/caches"
	"github.com/dgduncan/go-offline-cache/caches/local"
)

var errNetworkDown = errors.New("connection refused")

// errTransport simulates total network failure.
type errTransport struct{}

func (errTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errNetworkDown
}

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func newManager(t *testing.T, store gooffline.RegionStore, origin string) *gooffline.StoreManager {
	t.Helper()

	m, err := gooffline.NewStoreManager(store, "v1", origin, nil, nil, testTime)
	if err != nil {
		t.Fatalf("NewStoreManager: %v", err)
	}
	return m
}

func newWrap(t *testing.T, m *gooffline.StoreManager, cfg gooffline.Config) func(http.RoundTripper) http.RoundTripper {
	t.Helper()

	wrap, err := gooffline.New(m, &cfg, testTime, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return wrap
}

func newEntry(t *testing.T, status int, contentType, body string) *gooffline.CacheEntry {
	t.Helper()

	h := http.Header{}
	h.Set("Content-Type", contentType)
	resp := &http.Response{
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	entry, err := gooffline.SnapshotResponse(resp, testTime())
	if err != nil {
		t.Fatalf("SnapshotResponse: %v", err)
	}
	return entry
}

func waitForEntry(t *testing.T, m *gooffline.StoreManager, key string) *gooffline.CacheEntry {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if entry, err := m.Get(context.Background(), key); err == nil {
			return entry
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cache entry %s never appeared", key)
	return nil
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestAPIOfflineSynthesizesJSON(t *testing.T) {
	t.Parallel()

	cfg := gooffline.Config{
		Version:     "v1",
		Origin:      "http://app.test",
		APIPatterns: []string{"/api/"},
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	transport := newWrap(t, manager, cfg)(errTransport{})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/api/v1/transactions", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected synthesized response, got error: %v", err)
	}

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &body); err != nil {
		t.Fatalf("offline body is not JSON: %v", err)
	}
	if body.Error != "offline" {
		t.Errorf("expected error %q, got %q", "offline", body.Error)
	}
	if body.Message == "" {
		t.Error("expected a non-empty message")
	}
}

func TestNetworkFirstServesAndCaches(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"transactions":[]}`))
	}))
	defer server.Close()

	cfg := gooffline.Config{
		Version:     "v1",
		Origin:      server.URL,
		APIPatterns: []string{"/api/"},
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	wrap := newWrap(t, manager, cfg)

	client := &http.Client{Transport: wrap(http.DefaultTransport)}

	resp, err := client.Get(server.URL + "/api/v1/transactions")
	if err != nil {
		t.Fatalf("online request failed: %v", err)
	}
	if got := readBody(t, resp); got != `{"transactions":[]}` {
		t.Errorf("unexpected body: %s", got)
	}

	// the write-through is dispatched asynchronously
	key := "GET#" + server.URL + "/api/v1/transactions"
	waitForEntry(t, manager, key)

	// same key, network gone: the cached snapshot answers
	offline := &http.Client{Transport: wrap(errTransport{})}
	resp, err = offline.Get(server.URL + "/api/v1/transactions")
	if err != nil {
		t.Fatalf("offline request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected cached 200, got %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != `{"transactions":[]}` {
		t.Errorf("cached body mutated in transit: %s", got)
	}
}

func TestErrorResponsesNeverCached(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := gooffline.Config{
		Version:     "v1",
		Origin:      server.URL,
		APIPatterns: []string{"/api/"},
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	client := &http.Client{Transport: newWrap(t, manager, cfg)(http.DefaultTransport)}

	resp, err := client.Get(server.URL + "/api/v1/budgets")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	// the error response is forwarded as-is to the caller
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 forwarded, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// non-2xx never reaches the store, so no write was even dispatched
	if _, err := manager.Get(context.Background(), "GET#"+server.URL+"/api/v1/budgets"); !errors.Is(err, caches.ErrNoCacheItem) {
		t.Errorf("expected cache miss, got %v", err)
	}
}

func TestStaticCacheFirstByteIdentical(t *testing.T) {
	t.Parallel()

	cfg := gooffline.Config{
		Version: "v1",
		Origin:  "http://app.test",
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)

	entry := newEntry(t, http.StatusOK, "application/javascript", "console.log('app')")
	if err := manager.Put(context.Background(), "GET#http://app.test/static/app.js", entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	transport := newWrap(t, manager, cfg)(errTransport{})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/static/app.js", nil)
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected cached asset despite network failure: %v", err)
	}
	if got := readBody(t, resp); got != "console.log('app')" {
		t.Errorf("cached snapshot mutated: %s", got)
	}
}

func TestStaticCacheMissPropagatesError(t *testing.T) {
	t.Parallel()

	cfg := gooffline.Config{
		Version: "v1",
		Origin:  "http://app.test",
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	transport := newWrap(t, manager, cfg)(errTransport{})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/static/missing.js", nil)
	if _, err := transport.RoundTrip(req); !errors.Is(err, errNetworkDown) {
		t.Fatalf("expected the network error to surface, got %v", err)
	}
}

func TestStaticBackgroundRefresh(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{color:blue}"))
	}))
	defer server.Close()

	cfg := gooffline.Config{
		Version: "v1",
		Origin:  server.URL,
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)

	key := "GET#" + server.URL + "/static/site.css"
	stale := newEntry(t, http.StatusOK, "text/css", "body{color:red}")
	if err := manager.Put(context.Background(), key, stale); err != nil {
		t.Fatalf("put: %v", err)
	}

	client := &http.Client{Transport: newWrap(t, manager, cfg)(http.DefaultTransport)}

	// the stale copy is served immediately
	resp, err := client.Get(server.URL + "/static/site.css")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := readBody(t, resp); got != "body{color:red}" {
		t.Errorf("expected the cached copy first, got %s", got)
	}

	// and the background refresh lands the fresh one
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := manager.Get(context.Background(), key)
		if err == nil && strings.Contains(string(entry.Response), "blue") {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("background refresh never updated the cache")
}

func TestNavigationFallsBackToShell(t *testing.T) {
	t.Parallel()

	cfg := gooffline.Config{
		Version:   "v1",
		Origin:    "http://app.test",
		ShellPath: "/",
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)

	shell := newEntry(t, http.StatusOK, "text/html; charset=utf-8", "<html>shell</html>")
	if err := manager.Put(context.Background(), manager.ShellKey("/"), shell); err != nil {
		t.Fatalf("put shell: %v", err)
	}

	transport := newWrap(t, manager, cfg)(errTransport{})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/app/reports", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected shell fallback, got error: %v", err)
	}
	if got := readBody(t, resp); got != "<html>shell</html>" {
		t.Errorf("expected the precached shell, got %s", got)
	}
}

func TestNavigationOfflinePage(t *testing.T) {
	t.Parallel()

	cfg := gooffline.Config{
		Version:   "v1",
		Origin:    "http://app.test",
		ShellPath: "/",
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	transport := newWrap(t, manager, cfg)(errTransport{})

	req := httptest.NewRequest(http.MethodGet, "http://app.test/app/reports", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected synthesized page, got error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected text/html, got %s", ct)
	}

	body := readBody(t, resp)
	if !strings.Contains(body, "location.reload()") {
		t.Error("offline page is missing its retry control")
	}
	// the page must stand alone: no external stylesheet, script or image
	for _, ref := range []string{"<link", "src=", "href="} {
		if strings.Contains(body, ref) {
			t.Errorf("offline page references an external resource: %s", ref)
		}
	}
}

func TestMutationsPassStraightThrough(t *testing.T) {
	t.Parallel()

	var mutations int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			mutations++
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	cfg := gooffline.Config{
		Version:     "v1",
		Origin:      server.URL,
		APIPatterns: []string{"/api/"},
	}
	manager := newManager(t, local.NewBasicCache(), cfg.Origin)
	wrap := newWrap(t, manager, cfg)

	client := &http.Client{Transport: wrap(http.DefaultTransport)}
	resp, err := client.Post(server.URL+"/api/v1/transactions", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	resp.Body.Close()

	if mutations != 1 {
		t.Errorf("expected 1 mutation at the origin, got %d", mutations)
	}
	if _, err := manager.Get(context.Background(), "POST#"+server.URL+"/api/v1/transactions"); !errors.Is(err, caches.ErrNoCacheItem) {
		t.Errorf("mutations must never be cached, got %v", err)
	}

	// a failed mutation surfaces the transport error, never a synthesized 503
	offline := &http.Client{Transport: wrap(errTransport{})}
	if _, err := offline.Post(server.URL+"/api/v1/transactions", "application/json", strings.NewReader(`{}`)); err == nil {
		t.Fatal("expected the network error to surface for a mutation")
	}
}
