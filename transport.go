package gooffline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgduncan/go-offline-cache/caches"
)

const (
	headerCacheControl = "Cache-Control"
	headerContentType  = "Content-Type"
)

// OfflineTransport implements http.RoundTripper and provides the
// offline-resilience behavior for intercepted requests. Each request is
// classified, then handled by one of two strategies: network-first for data
// and document requests, cache-first with background revalidation for static
// assets. When both the network and the cache come up empty, a synthesized
// offline response stands in.
//
// Requests are independent: the transport keeps no per-request state beyond
// the classification, and concurrent requests for the same key interleave
// freely with last-write-wins cache semantics.
type OfflineTransport struct {
	Wrapped http.RoundTripper

	manager    *StoreManager
	classifier *Classifier
	shellPath  string
	logger     *slog.Logger
	now        func() time.Time
}

// RoundTrip dispatches the request to its strategy.
//
// The process follows these steps:
// 1. Mutations and cross-origin traffic pass straight through, uncached
// 2. Static assets are served cache-first, revalidating in the background
// 3. Everything else is served network-first with cache fallback
// 4. Total failure synthesizes an offline response (or the precached shell
// for navigations).
func (t *OfflineTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !t.classifier.Intercepts(r) {
		return t.Wrapped.RoundTrip(r)
	}

	class := t.classifier.Classify(r)
	if class == ClassStatic {
		return t.cacheFirst(r)
	}
	return t.networkFirst(r, class)
}

// networkFirst attempts the network and forwards whatever comes back,
// success or error status alike. Transport-level failures fall back to the
// cache, then to the offline synthesizer.
func (t *OfflineTransport) networkFirst(r *http.Request, class Classification) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(*r)

	resp, err := t.Wrapped.RoundTrip(r)
	if err == nil {
		if cacheable(resp.StatusCode) {
			t.writeThrough(ctx, key, resp)
		}
		return resp, nil
	}

	t.logger.DebugContext(ctx, "network failed, consulting cache",
		"url", r.URL.String(),
		"classification", string(class),
		"error", err)

	entry, cacheErr := t.manager.Get(ctx, key)
	if cacheErr == nil {
		return entry.HTTPResponse()
	}

	if class == ClassNavigation {
		// no exact match: sustain single-page-app routing with the
		// precached shell document
		if shell, shellErr := t.manager.Get(ctx, t.manager.ShellKey(t.shellPath)); shellErr == nil {
			t.logger.DebugContext(ctx, "serving precached shell", "url", r.URL.String())
			return shell.HTTPResponse()
		}
	}

	return synthesizeOffline(class), nil
}

// cacheFirst serves static assets from the cache when present, refreshing
// the entry in the background. A miss goes to the network; a miss with no
// network fails loudly, since no sane fallback exists for an absent script
// or image.
func (t *OfflineTransport) cacheFirst(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	key := caches.Key(*r)

	entry, err := t.manager.Get(ctx, key)
	if err == nil {
		t.logger.DebugContext(ctx, "static cache hit", "url", r.URL.String())
		t.revalidate(ctx, r, key)
		return entry.HTTPResponse()
	}

	resp, netErr := t.Wrapped.RoundTrip(r)
	if netErr != nil {
		return nil, netErr
	}

	if cacheable(resp.StatusCode) {
		t.writeThrough(ctx, key, resp)
	}
	return resp, nil
}

// writeThrough snapshots resp and stores it without delaying the response
// already in flight. The write is detached from the request context: a
// canceled navigation must not abort a dispatched cache write.
func (t *OfflineTransport) writeThrough(ctx context.Context, key string, resp *http.Response) {
	entry, err := SnapshotResponse(resp, t.now().UTC())
	if err != nil {
		t.logger.WarnContext(ctx, "snapshot failed, skipping cache write", "key", key, "error", err)
		return
	}

	wctx := context.WithoutCancel(ctx)
	go func() {
		if err := t.manager.Put(wctx, key, entry); err != nil {
			t.logger.WarnContext(wctx, "error caching response", "key", key, "error", err)
		}
	}()
}

// revalidate refreshes a served-from-cache entry in the background.
// Failures are swallowed: the caller already has its response.
func (t *OfflineTransport) revalidate(ctx context.Context, r *http.Request, key string) {
	req := r.Clone(context.WithoutCancel(ctx))
	req.Header.Set(headerCacheControl, "no-cache")

	go func() {
		resp, err := t.Wrapped.RoundTrip(req)
		if err != nil {
			t.logger.DebugContext(req.Context(), "background refresh failed", "url", req.URL.String(), "error", err)
			return
		}
		defer resp.Body.Close()

		if !cacheable(resp.StatusCode) {
			return
		}

		entry, err := SnapshotResponse(resp, t.now().UTC())
		if err != nil {
			return
		}
		if err := t.manager.Put(req.Context(), key, entry); err != nil {
			t.logger.DebugContext(req.Context(), "background refresh write failed", "key", key, "error", err)
		}
	}()
}

func cacheable(status int) bool {
	return status >= http.StatusOK && status <= 299
}

// New creates a transport middleware that adds offline resilience to an HTTP
// RoundTripper.
//
// The middleware uses the manager's store for cached snapshots and the
// config's patterns for classification. If the 'now' function is nil,
// time.Now is used as the time provider. If the 'logger' is nil, a no-op
// logger writing to io.Discard is used.
//
// The returned function wraps an http.RoundTripper; a nil wrapped transport
// falls back to http.DefaultTransport.
func New(
	manager *StoreManager,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) (func(http.RoundTripper) http.RoundTripper, error) {
	if manager == nil {
		return nil, caches.ValidationError{Reason: "nil store manager"}
	}

	c := DefaultConfig()
	if opts != nil {
		c = *opts
	}
	if c.ShellPath == "" {
		c.ShellPath = DefaultConfig().ShellPath
	}

	classifier, err := NewClassifier(c)
	if err != nil {
		return nil, err
	}

	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(rt http.RoundTripper) http.RoundTripper {
		if rt == nil {
			rt = http.DefaultTransport
		}
		return &OfflineTransport{
			Wrapped:    rt,
			manager:    manager,
			classifier: classifier,
			shellPath:  c.ShellPath,
			logger:     logger,
			now:        nowFunc,
		}
	}, nil
}
