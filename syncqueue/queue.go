// Package syncqueue records mutations that could not reach the origin and
// replays them when the environment signals that connectivity is restored.
// Tasks are atomic from the queue's perspective: a task is removed exactly
// once, on successful replay, and otherwise stays pending for the next
// signal. There is no backoff at this layer; connectivity-change signals are
// inherently rate-limited by whatever emits them.
package syncqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgduncan/go-offline-cache/caches"
)

// Task is one deferred mutation, pending replay against its original
// endpoint. Tasks have no TTL: they persist until a replay succeeds.
type Task struct {
	ID         string
	Tag        string
	Method     string
	URL        string
	Header     http.Header
	Payload    []byte
	EnqueuedAt time.Time
}

// Store persists pending tasks. Pending must return tasks in enqueue order.
type Store interface {
	Append(ctx context.Context, t Task) error
	Pending(ctx context.Context, tag string) ([]Task, error)
	Remove(ctx context.Context, id string) error
}

// Message is broadcast to all open application instances after a successful
// replay so their UI can refresh.
type Message struct {
	Type string `json:"type"`
}

// Broadcaster delivers a Message to every connected application instance.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) error
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, Message) error { return nil }

// Queue drives enqueue and replay. Replays for the same tag are serialized;
// distinct tags proceed independently.
type Queue struct {
	store       Store
	client      *http.Client
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time

	mu   sync.Mutex
	tags map[string]*sync.Mutex
}

// New creates a Queue on top of store. A nil client falls back to
// http.DefaultClient, a nil broadcaster to a no-op, nil now and logger to
// time.Now and a no-op logger.
func New(store Store, client *http.Client, broadcaster Broadcaster, logger *slog.Logger, now func() time.Time) (*Queue, error) {
	if store == nil {
		return nil, caches.ValidationError{Reason: "nil task store"}
	}

	if client == nil {
		client = http.DefaultClient
	}
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = time.Now
	}

	return &Queue{
		store:       store,
		client:      client,
		broadcaster: broadcaster,
		logger:      logger,
		now:         now,

		tags: make(map[string]*sync.Mutex),
	}, nil
}

// Enqueue records a mutation that failed to reach the origin. The returned
// task is Pending until a connectivity signal replays it successfully.
func (q *Queue) Enqueue(ctx context.Context, tag, method, url string, header http.Header, payload []byte) (Task, error) {
	if tag == "" {
		return Task{}, fmt.Errorf("empty tag")
	}
	if url == "" {
		return Task{}, fmt.Errorf("empty url")
	}
	if method == "" {
		method = http.MethodPost
	}

	t := Task{
		ID:         uuid.NewString(),
		Tag:        tag,
		Method:     method,
		URL:        url,
		Header:     header.Clone(),
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
	}
	if err := q.store.Append(ctx, t); err != nil {
		return Task{}, err
	}

	q.logger.DebugContext(ctx, "task enqueued", "tag", tag, "id", t.ID, "url", url)
	return t, nil
}

// ConnectivityRestored drains the tag: every pending task is replayed to its
// original endpoint. A successful replay removes the task and broadcasts the
// tag's synced message; a failed replay leaves the task pending for the next
// signal.
func (q *Queue) ConnectivityRestored(ctx context.Context, tag string) error {
	lock := q.tagLock(tag)
	lock.Lock()
	defer lock.Unlock()

	tasks, err := q.store.Pending(ctx, tag)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if err := q.replay(ctx, t); err != nil {
			q.logger.DebugContext(ctx, "replay failed, task stays queued", "tag", tag, "id", t.ID, "error", err)
			continue
		}

		if err := q.store.Remove(ctx, t.ID); err != nil {
			return err
		}

		if err := q.broadcaster.Broadcast(ctx, Message{Type: SyncedMessageType(tag)}); err != nil {
			q.logger.WarnContext(ctx, "broadcast failed", "tag", tag, "error", err)
		}
	}

	return nil
}

func (q *Queue) replay(ctx context.Context, t Task) error {
	req, err := http.NewRequestWithContext(ctx, t.Method, t.URL, bytes.NewReader(t.Payload))
	if err != nil {
		return err
	}
	for k, vs := range t.Header {
		req.Header[k] = vs
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		return fmt.Errorf("replay %s %s: status %d", t.Method, t.URL, resp.StatusCode)
	}

	return nil
}

func (q *Queue) tagLock(tag string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, ok := q.tags[tag]
	if !ok {
		lock = &sync.Mutex{}
		q.tags[tag] = lock
	}
	return lock
}

// SyncedMessageType derives the broadcast message type from a task tag:
// "sync-transactions" becomes "TRANSACTIONS_SYNCED".
func SyncedMessageType(tag string) string {
	name := strings.TrimPrefix(tag, "sync-")
	name = strings.ReplaceAll(name, "-", "_")
	return strings.ToUpper(name) + "_SYNCED"
}
