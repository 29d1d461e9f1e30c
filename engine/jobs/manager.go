// Package jobs tracks batch ingestion jobs: a bounded in-memory registry,
// per-job worker dispatch with a concurrency cap, cooperative cancellation,
// and progress publication.
package jobs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/progress"
	"github.com/docpilot-ai/docpilot/pkg/fn"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusProcessing          Status = "processing"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Snapshot is a point-in-time copy of a job's state, safe to serialize.
type Snapshot struct {
	ID         string              `json:"job_id"`
	Status     Status              `json:"status"`
	Total      int                 `json:"total"`
	Processed  int                 `json:"processed"`
	Failed     int                 `json:"failed"`
	Percentage float64             `json:"percentage"`
	Results    []domain.ItemResult `json:"results,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// job is the internal mutable record. All fields behind mu.
type job struct {
	mu        sync.Mutex
	id        string
	status    Status
	urls      []string
	processed int
	failed    int
	results   []domain.ItemResult
	errMsg    string
	createdAt time.Time
	updatedAt time.Time
	cancelled bool
}

func (j *job) snapshotLocked() Snapshot {
	pct := 0.0
	if len(j.urls) > 0 {
		pct = float64(j.processed+j.failed) / float64(len(j.urls)) * 100
	}
	results := make([]domain.ItemResult, len(j.results))
	copy(results, j.results)
	return Snapshot{
		ID:         j.id,
		Status:     j.status,
		Total:      len(j.urls),
		Processed:  j.processed,
		Failed:     j.failed,
		Percentage: pct,
		Results:    results,
		Error:      j.errMsg,
		CreatedAt:  j.createdAt,
		UpdatedAt:  j.updatedAt,
	}
}

func (j *job) snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

const (
	// DefaultConcurrency bounds simultaneous document pipelines per job.
	DefaultConcurrency = 3
	// DefaultMaxJobs bounds the registry; oldest terminal jobs are evicted.
	DefaultMaxJobs = 256
	// SyncThreshold is the largest batch processed inline rather than queued.
	SyncThreshold = 5
)

// Options configures a Manager.
type Options struct {
	Concurrency int
	MaxJobs     int
	Heartbeat   time.Duration
	Logger      *slog.Logger
}

// DefaultOptions returns production manager settings.
func DefaultOptions() Options {
	return Options{
		Concurrency: DefaultConcurrency,
		MaxJobs:     DefaultMaxJobs,
		Heartbeat:   progress.DefaultHeartbeat,
	}
}

// Manager owns the job registry and runs batches through the document
// pipeline.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*job

	pipeline    fn.Stage[string, domain.Document]
	broadcaster *progress.Broadcaster
	opts        Options
	log         *slog.Logger
}

// NewManager creates a Manager around a document pipeline.
func NewManager(pipeline fn.Stage[string, domain.Document], b *progress.Broadcaster, opts Options) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = DefaultMaxJobs
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = progress.DefaultHeartbeat
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		jobs:        make(map[string]*job),
		pipeline:    pipeline,
		broadcaster: b,
		opts:        opts,
		log:         log,
	}
}

// Submit registers a batch and starts processing it in the background.
func (m *Manager) Submit(ctx context.Context, urls []string) (Snapshot, error) {
	j, err := m.register(urls)
	if err != nil {
		return Snapshot{}, err
	}
	go m.run(context.WithoutCancel(ctx), j)
	return j.snapshot(), nil
}

// SubmitSync registers a batch and processes it before returning. Intended
// for batches at or below SyncThreshold where the caller wants the outcome
// in the response.
func (m *Manager) SubmitSync(ctx context.Context, urls []string) (Snapshot, error) {
	j, err := m.register(urls)
	if err != nil {
		return Snapshot{}, err
	}
	m.run(ctx, j)
	return j.snapshot(), nil
}

func (m *Manager) register(urls []string) (*job, error) {
	if err := domain.ValidateBatch(urls); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job{
		id:        uuid.NewString(),
		status:    StatusQueued,
		urls:      urls,
		createdAt: now,
		updatedAt: now,
	}
	// Nothing to do means the job is already done.
	if len(urls) == 0 {
		j.status = StatusCompleted
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.evictLocked()
	m.mu.Unlock()

	m.publish(j)
	return j, nil
}

// evictLocked drops the oldest terminal jobs until the registry fits.
// Active jobs are never evicted.
func (m *Manager) evictLocked() {
	if len(m.jobs) <= m.opts.MaxJobs {
		return
	}
	type aged struct {
		id string
		at time.Time
	}
	var terminal []aged
	for id, j := range m.jobs {
		j.mu.Lock()
		if j.status.Terminal() {
			terminal = append(terminal, aged{id, j.createdAt})
		}
		j.mu.Unlock()
	}
	sort.Slice(terminal, func(i, k int) bool { return terminal[i].at.Before(terminal[k].at) })
	for _, t := range terminal {
		if len(m.jobs) <= m.opts.MaxJobs {
			break
		}
		delete(m.jobs, t.id)
	}
}

// run processes the job's URLs with bounded concurrency. Cancellation is
// observed between dispatches; items already running finish and count.
func (m *Manager) run(ctx context.Context, j *job) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	if j.cancelled {
		j.status = StatusCancelled
		j.updatedAt = time.Now().UTC()
		j.mu.Unlock()
		m.publish(j)
		return
	}
	j.status = StatusProcessing
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
	m.publish(j)

	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go m.broadcaster.Heartbeat(hbCtx, m.opts.Heartbeat, func() (progress.Event, bool) {
		snap := j.snapshot()
		return eventFrom(snap), snap.Status.Terminal()
	})

	sem := make(chan struct{}, m.opts.Concurrency)
	var wg sync.WaitGroup
	for _, u := range j.urls {
		j.mu.Lock()
		cancelled := j.cancelled
		j.mu.Unlock()
		if cancelled || ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(sourceURL string) {
			defer func() { <-sem; wg.Done() }()
			m.processItem(ctx, j, sourceURL)
		}(u)
	}
	wg.Wait()
	stopHB()

	j.mu.Lock()
	switch {
	case j.cancelled:
		j.status = StatusCancelled
	case ctx.Err() != nil:
		// The job's own context died; that is a pipeline-level failure,
		// unlike per-item errors which are counted and reported.
		j.status = StatusFailed
		j.errMsg = ctx.Err().Error()
	case j.failed > 0:
		j.status = StatusCompletedWithErrors
	default:
		j.status = StatusCompleted
	}
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
	m.publish(j)
}

func (m *Manager) processItem(ctx context.Context, j *job, sourceURL string) {
	result := m.pipeline(ctx, sourceURL)

	j.mu.Lock()
	if result.IsErr() {
		_, err := result.Unwrap()
		j.failed++
		j.results = append(j.results, domain.ItemResult{
			SourceURL: sourceURL,
			Outcome:   domain.OutcomeFailure,
			Detail:    err.Error(),
		})
		m.log.Warn("jobs: item failed", "job_id", j.id, "source_url", sourceURL, "error", err)
	} else {
		doc, _ := result.Unwrap()
		j.processed++
		j.results = append(j.results, domain.ItemResult{
			SourceURL: sourceURL,
			Outcome:   domain.OutcomeSuccess,
			Detail:    doc.ID,
		})
	}
	j.updatedAt = time.Now().UTC()
	j.mu.Unlock()
	m.publish(j)
}

// Cancel requests cooperative cancellation. Items already in flight finish
// and count toward the totals. Terminal jobs reject cancellation.
func (m *Manager) Cancel(jobID string) (Snapshot, error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, domain.ErrJobNotFound
	}

	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return Snapshot{}, domain.ErrJobTerminal
	}
	j.cancelled = true
	if j.status == StatusQueued {
		j.status = StatusCancelled
	}
	j.updatedAt = time.Now().UTC()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	m.publish(j)
	return snap, nil
}

// Get returns a job's current snapshot.
func (m *Manager) Get(jobID string) (Snapshot, error) {
	m.mu.Lock()
	j, ok := m.jobs[jobID]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, domain.ErrJobNotFound
	}
	return j.snapshot(), nil
}

// List returns snapshots of all registered jobs, newest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	all := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j)
	}
	m.mu.Unlock()

	snaps := make([]Snapshot, len(all))
	for i, j := range all {
		snaps[i] = j.snapshot()
	}
	sort.Slice(snaps, func(i, k int) bool { return snaps[i].CreatedAt.After(snaps[k].CreatedAt) })
	return snaps
}

func (m *Manager) publish(j *job) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Publish(eventFrom(j.snapshot()))
}

func eventFrom(s Snapshot) progress.Event {
	return progress.Event{
		JobID:      s.ID,
		Status:     string(s.Status),
		Processed:  s.Processed,
		Failed:     s.Failed,
		Total:      s.Total,
		Percentage: s.Percentage,
		Timestamp:  s.UpdatedAt,
	}
}
