package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docpilot-ai/docpilot/engine/answer"
	"github.com/docpilot-ai/docpilot/engine/catalog"
	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/ingest"
	"github.com/docpilot-ai/docpilot/engine/jobs"
	"github.com/docpilot-ai/docpilot/engine/progress"
	"github.com/docpilot-ai/docpilot/engine/semantic"
	"github.com/docpilot-ai/docpilot/pkg/metrics"
)

type serverDeps struct {
	manager     *jobs.Manager
	broadcaster *progress.Broadcaster
	engine      *answer.Engine
	index       semantic.Index
	catalog     *catalog.Store
	fetcher     *ingest.HTTPFetcher
	metrics     *metrics.Registry
	logger      *slog.Logger
}

func newMux(d serverDeps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", d.metrics.Handler())
	mux.HandleFunc("POST /api/ingest", d.handleIngest)
	mux.HandleFunc("GET /api/jobs", d.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", d.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", d.handleCancelJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", d.handleJobEvents)
	mux.HandleFunc("POST /api/ask", d.handleAsk)
	mux.HandleFunc("GET /api/documents", d.handleListDocuments)
	mux.HandleFunc("DELETE /api/documents", d.handleClearDocuments)
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// IngestRequest is the JSON body for POST /api/ingest. Exactly one of URL,
// URLs, or PageURL should be set; PageURL triggers link discovery.
type IngestRequest struct {
	URL         string   `json:"url,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	PageURL     string   `json:"page_url,omitempty"`
	MaxItems    int      `json:"max_items,omitempty"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// IngestAccepted is the 202 response for queued batches.
type IngestAccepted struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	Total            int    `json:"total"`
	ProgressEndpoint string `json:"progress_endpoint"`
	EventsEndpoint   string `json:"events_endpoint"`
}

func (d serverDeps) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	urls := req.URLs
	if req.URL != "" {
		urls = append(urls, req.URL)
	}
	if req.PageURL != "" {
		links, err := d.fetcher.DiscoverPDFs(r.Context(), req.PageURL)
		if err != nil {
			writeError(w, http.StatusBadGateway, fmt.Sprintf("discover links: %v", err))
			return
		}
		if len(links) == 0 {
			writeError(w, http.StatusNotFound, "no PDF links found on page")
			return
		}
		for _, l := range links {
			urls = append(urls, l.URL)
		}
	}
	if req.MaxItems > 0 && len(urls) > req.MaxItems {
		urls = urls[:req.MaxItems]
	}
	if len(urls) == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrEmptyBatch.Error())
		return
	}

	d.metrics.Counter("docpilot_ingest_requests_total", "Ingest requests received").Inc()

	if len(urls) <= jobs.SyncThreshold {
		snap, err := d.manager.SubmitSync(r.Context(), urls)
		if err != nil {
			writeValidation(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := d.manager.Submit(r.Context(), urls)
	if err != nil {
		writeValidation(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, IngestAccepted{
		JobID:            snap.ID,
		Status:           string(snap.Status),
		Total:            snap.Total,
		ProgressEndpoint: "/api/jobs/" + snap.ID,
		EventsEndpoint:   "/api/jobs/" + snap.ID + "/events",
	})
}

func (d serverDeps) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": d.manager.List()})
}

func (d serverDeps) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := d.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (d serverDeps) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	snap, err := d.manager.Cancel(r.PathValue("id"))
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrJobTerminal):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleJobEvents streams progress events over SSE until the job reaches a
// terminal state or the client disconnects. The current snapshot is sent
// immediately so clients never start blind.
func (d serverDeps) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	snap, err := d.manager.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := make(chan progress.Event, 16)
	unsubscribe := d.broadcaster.Subscribe(jobID, func(ev progress.Event) error {
		select {
		case events <- ev:
			return nil
		default:
			return fmt.Errorf("listener backlog full")
		}
	})
	defer unsubscribe()

	send := func(ev progress.Event) bool {
		data, _ := json.Marshal(ev)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	first := progress.Event{
		JobID:      snap.ID,
		Status:     string(snap.Status),
		Processed:  snap.Processed,
		Failed:     snap.Failed,
		Total:      snap.Total,
		Percentage: snap.Percentage,
		Timestamp:  time.Now().UTC(),
	}
	if !send(first) || snap.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			if !send(ev) {
				return
			}
			if jobs.Status(ev.Status).Terminal() {
				return
			}
		}
	}
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question   string `json:"question"`
	MaxResults int    `json:"max_results,omitempty"`
}

func (d serverDeps) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	ans, err := d.engine.Ask(r.Context(), req.Question, req.MaxResults)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		d.logger.Error("ask failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	d.metrics.Histogram("docpilot_ask_duration_seconds", "Question answering latency", nil).Since(start)
	writeJSON(w, http.StatusOK, ans)
}

func (d serverDeps) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	count, err := d.index.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	docs := []domain.Document{}
	if d.catalog != nil {
		docs, err = d.catalog.List(r.Context())
		if err != nil {
			d.logger.Warn("catalog list failed", "err", err)
			docs = []domain.Document{}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chunk_count": count,
		"documents":   docs,
	})
}

func (d serverDeps) handleClearDocuments(w http.ResponseWriter, r *http.Request) {
	if err := d.index.DeleteAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if d.catalog != nil {
		if err := d.catalog.DeleteAll(r.Context()); err != nil {
			d.logger.Warn("catalog clear failed", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidation(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) || errors.Is(err, domain.ErrEmptyBatch) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
