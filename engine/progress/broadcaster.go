// Package progress fans job progress events out to interested listeners,
// typically SSE handlers and an optional NATS bridge. Events are fire and
// forget; late subscribers see the next event, never a replay.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/docpilot-ai/docpilot/pkg/natsutil"
)

// DefaultHeartbeat is how often an unchanged job still emits an event so
// listeners can distinguish a slow job from a dead connection.
const DefaultHeartbeat = 2 * time.Second

// Event is one progress update for a job.
type Event struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	Percentage float64   `json:"percentage"`
	Timestamp  time.Time `json:"timestamp"`
}

// Listener receives events for one job. Returning an error unsubscribes the
// listener; a closed SSE connection surfaces as a write error here.
type Listener func(Event) error

// Broadcaster delivers events to per-job listeners.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[string]map[int]Listener
	nextID    int

	nc  *nats.Conn
	log *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithNATS mirrors every event onto docpilot.progress.<job_id> so other
// processes can follow along.
func WithNATS(nc *nats.Conn) Option {
	return func(b *Broadcaster) { b.nc = nc }
}

// WithLogger sets the broadcaster's logger.
func WithLogger(log *slog.Logger) Option {
	return func(b *Broadcaster) { b.log = log }
}

// New creates a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		listeners: make(map[string]map[int]Listener),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a listener for a job and returns its unsubscribe
// function. Unsubscribing twice is safe.
func (b *Broadcaster) Subscribe(jobID string, l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listeners[jobID] == nil {
		b.listeners[jobID] = make(map[int]Listener)
	}
	id := b.nextID
	b.nextID++
	b.listeners[jobID][id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[jobID], id)
		if len(b.listeners[jobID]) == 0 {
			delete(b.listeners, jobID)
		}
	}
}

// Publish delivers an event to the job's listeners. A listener that returns
// an error is pruned.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	targets := make(map[int]Listener, len(b.listeners[ev.JobID]))
	for id, l := range b.listeners[ev.JobID] {
		targets[id] = l
	}
	b.mu.Unlock()

	var dead []int
	for id, l := range targets {
		if err := l(ev); err != nil {
			dead = append(dead, id)
		}
	}
	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.listeners[ev.JobID], id)
		}
		if len(b.listeners[ev.JobID]) == 0 {
			delete(b.listeners, ev.JobID)
		}
		b.mu.Unlock()
	}

	if b.nc != nil {
		if err := natsutil.Publish(context.Background(), b.nc, "docpilot.progress."+ev.JobID, ev); err != nil {
			b.log.Warn("progress: nats publish failed", "error", err, "job_id", ev.JobID)
		}
	}
}

// ListenerCount reports the number of listeners registered for a job.
func (b *Broadcaster) ListenerCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[jobID])
}

// Heartbeat republishes the job's current snapshot every interval until the
// snapshot function reports the job terminal or the context ends.
func (b *Broadcaster) Heartbeat(ctx context.Context, interval time.Duration, snapshot func() (Event, bool)) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev, terminal := snapshot()
			b.Publish(ev)
			if terminal {
				return
			}
		}
	}
}
