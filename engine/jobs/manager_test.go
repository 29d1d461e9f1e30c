package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/progress"
	"github.com/docpilot-ai/docpilot/pkg/fn"
)

// failSet builds a pipeline that fails for the given URLs and succeeds for
// the rest.
func failSet(failing ...string) fn.Stage[string, domain.Document] {
	fails := make(map[string]bool, len(failing))
	for _, u := range failing {
		fails[u] = true
	}
	return func(_ context.Context, url string) fn.Result[domain.Document] {
		if fails[url] {
			return fn.Err[domain.Document](errors.New("boom"))
		}
		return fn.Ok(domain.Document{ID: domain.DocumentID(url), SourceURL: url})
	}
}

func newTestManager(pipeline fn.Stage[string, domain.Document], opts Options) *Manager {
	if opts.Heartbeat == 0 {
		opts.Heartbeat = time.Hour // keep heartbeats out of unit tests
	}
	return NewManager(pipeline, progress.New(), opts)
}

func TestSubmitSync_AllSucceed(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	snap, err := m.SubmitSync(context.Background(), []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if snap.Processed != 2 || snap.Failed != 0 {
		t.Errorf("processed=%d failed=%d", snap.Processed, snap.Failed)
	}
	if snap.Percentage != 100 {
		t.Errorf("percentage = %f, want 100", snap.Percentage)
	}
}

func TestSubmitSync_PartialFailure(t *testing.T) {
	m := newTestManager(failSet("https://example.com/bad.pdf"), Options{})
	snap, err := m.SubmitSync(context.Background(), []string{
		"https://example.com/good.pdf",
		"https://example.com/bad.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Status != StatusCompletedWithErrors {
		t.Errorf("status = %s, want completed_with_errors", snap.Status)
	}
	if snap.Processed != 1 || snap.Failed != 1 {
		t.Errorf("processed=%d failed=%d", snap.Processed, snap.Failed)
	}

	var failures int
	for _, r := range snap.Results {
		if !r.OK() {
			failures++
			if r.Detail == "" {
				t.Error("failure result missing detail")
			}
		}
	}
	if failures != 1 {
		t.Errorf("expected 1 failure result, got %d", failures)
	}
}

func TestSubmitSync_AllFail(t *testing.T) {
	m := newTestManager(failSet("https://example.com/a.pdf", "https://example.com/b.pdf"), Options{})
	snap, err := m.SubmitSync(context.Background(), []string{
		"https://example.com/a.pdf",
		"https://example.com/b.pdf",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Item failures never make the job itself failed; that status is for
	// pipeline-level breakage like a dead job context.
	if snap.Status != StatusCompletedWithErrors {
		t.Errorf("status = %s, want completed_with_errors", snap.Status)
	}
	if snap.Processed != 0 || snap.Failed != 2 {
		t.Errorf("processed=%d failed=%d", snap.Processed, snap.Failed)
	}
}

func TestSubmitSync_EmptyBatchCompletesImmediately(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	snap, err := m.SubmitSync(context.Background(), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if snap.Processed != 0 || snap.Failed != 0 || snap.Total != 0 {
		t.Errorf("processed=%d failed=%d total=%d, want all zero", snap.Processed, snap.Failed, snap.Total)
	}
}

func TestSubmit_EmptyBatchCompletesImmediately(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	snap, err := m.Submit(context.Background(), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
}

func TestSubmitSync_DeadContextFailsJob(t *testing.T) {
	pipeline := func(ctx context.Context, _ string) fn.Result[domain.Document] {
		return fn.Err[domain.Document](ctx.Err())
	}
	m := newTestManager(pipeline, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := m.SubmitSync(ctx, []string{"https://example.com/a.pdf"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap.Status != StatusFailed {
		t.Errorf("status = %s, want failed", snap.Status)
	}
	if snap.Error == "" {
		t.Error("failed job carries no error message")
	}
}

func TestSubmit_InvalidURLRejected(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	_, err := m.Submit(context.Background(), []string{"not a url"})
	if !errors.Is(err, domain.ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}

func TestConcurrencyBound(t *testing.T) {
	var active, peak atomic.Int64
	pipeline := func(_ context.Context, url string) fn.Result[domain.Document] {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return fn.Ok(domain.Document{SourceURL: url})
	}

	m := newTestManager(pipeline, Options{Concurrency: 2})
	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://example.com/doc.pdf"
	}
	if _, err := m.SubmitSync(context.Background(), urls); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds limit 2", got)
	}
}

func TestCancel_InFlightItemsFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	pipeline := func(_ context.Context, url string) fn.Result[domain.Document] {
		once.Do(func() { close(started) })
		<-release
		return fn.Ok(domain.Document{SourceURL: url})
	}

	m := newTestManager(pipeline, Options{Concurrency: 1})
	urls := make([]string, 5)
	for i := range urls {
		urls[i] = "https://example.com/doc.pdf"
	}
	snap, err := m.Submit(context.Background(), urls)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	if _, err := m.Cancel(snap.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		got, err := m.Get(snap.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != StatusCancelled {
				t.Errorf("status = %s, want cancelled", got.Status)
			}
			// The item running at cancel time finishes and counts.
			if got.Processed < 1 {
				t.Errorf("in-flight item did not count, processed=%d", got.Processed)
			}
			if got.Processed+got.Failed >= got.Total {
				t.Errorf("cancellation did not stop dispatch, %d/%d done", got.Processed, got.Total)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("job never reached terminal state, status=%s", got.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCancel_TerminalRejected(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	snap, err := m.SubmitSync(context.Background(), []string{"https://example.com/a.pdf"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := m.Cancel(snap.ID); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	if _, err := m.Cancel("nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGet_UnknownJob(t *testing.T) {
	m := newTestManager(failSet(), Options{})
	if _, err := m.Get("nope"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEviction_KeepsActiveJobs(t *testing.T) {
	m := newTestManager(failSet(), Options{MaxJobs: 3})
	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := m.SubmitSync(context.Background(), []string{"https://example.com/a.pdf"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}

	if got := len(m.List()); got > 3 {
		t.Errorf("registry holds %d jobs, want <= 3", got)
	}
	// The newest jobs survive.
	if _, err := m.Get(ids[4]); err != nil {
		t.Errorf("newest job evicted: %v", err)
	}
	if _, err := m.Get(ids[0]); err == nil {
		t.Error("oldest terminal job not evicted")
	}
}

func TestProgressEventsPublished(t *testing.T) {
	b := progress.New()
	m := NewManager(failSet(), b, Options{Heartbeat: time.Hour})

	snap, err := m.Submit(context.Background(), []string{"https://example.com/a.pdf"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Subscribe immediately; the terminal event is delivered on completion.
	done := make(chan progress.Event, 16)
	unsub := b.Subscribe(snap.ID, func(ev progress.Event) error {
		done <- ev
		return nil
	})
	defer unsub()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-done:
			if Status(ev.Status).Terminal() {
				if ev.Percentage != 100 {
					t.Errorf("terminal percentage = %f", ev.Percentage)
				}
				return
			}
		case <-deadline:
			// The job may have finished before we subscribed; the snapshot
			// still proves completion.
			got, _ := m.Get(snap.ID)
			if !got.Status.Terminal() {
				t.Fatal("no terminal event and job not terminal")
			}
			return
		}
	}
}
