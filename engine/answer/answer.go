// Package answer orchestrates retrieval-augmented question answering. It
// embeds a question, searches the vector index, gates on retrieval
// confidence, builds a bounded context prompt, and generates an answer
// through tiered strategies that always terminate in a local heuristic.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/engine/semantic"
)

// NotFoundAnswer is returned when no retrieved chunk clears the confidence
// gate.
const NotFoundAnswer = "I don't have enough information to answer that question based on the provided documents."

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// Options configures the answer engine.
type Options struct {
	TopK            int
	MinScore        float32
	MaxContextChars int
	MaxTokens       int
	SearchTimeout   time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:            5,
		MinScore:        0.5,
		MaxContextChars: 6000,
		MaxTokens:       1024,
		SearchTimeout:   5 * time.Second,
	}
}

// Answer is the structured response to a question.
type Answer struct {
	Text       string                   `json:"answer"`
	Sources    []domain.RetrievalResult `json:"sources"`
	Confidence float32                  `json:"confidence"`
	Strategy   string                   `json:"strategy,omitempty"`
}

// Engine runs the question answering pipeline.
type Engine struct {
	embedder  Embedder
	index     semantic.Index
	generator *tieredGenerator
	opts      Options
	log       *slog.Logger
}

// New creates an answer Engine.
func New(embedder Embedder, index semantic.Index, strategies []Strategy, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultOptions().MinScore
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultOptions().MaxContextChars
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultOptions().SearchTimeout
	}
	if len(strategies) == 0 {
		strategies = []Strategy{heuristicStrategy{}}
	}
	return &Engine{
		embedder:  embedder,
		index:     index,
		generator: &tieredGenerator{strategies: strategies, log: log},
		opts:      opts,
		log:       log,
	}
}

// Ask answers a question from the indexed documents. maxResults caps the
// retrieved chunks; zero means the configured TopK. Questions whose best
// retrieval score falls below MinScore get the canned not-found answer
// with confidence 0 and no sources.
func (e *Engine) Ask(ctx context.Context, question string, maxResults int) (*Answer, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(question)
	topK := maxResults
	if topK <= 0 {
		topK = e.opts.TopK
	}

	vec, err := e.embedder.Embed(ctx, q)
	if err != nil {
		// Zero vector scores 0 everywhere, so the gate turns an embed
		// failure into the not-found answer rather than a 500.
		e.log.Warn("answer: embed failed, using zero vector", "error", err)
		vec = make([]float32, e.embedder.Dims())
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()

	results, err := e.index.Search(searchCtx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("answer: search: %w", err)
	}

	relevant := results[:0:0]
	for _, r := range results {
		if r.Score >= e.opts.MinScore {
			relevant = append(relevant, r)
		}
	}
	if len(relevant) == 0 {
		return &Answer{
			Text:       NotFoundAnswer,
			Sources:    []domain.RetrievalResult{},
			Confidence: 0,
		}, nil
	}

	prompt := buildPrompt(q, relevant, e.opts.MaxContextChars)
	text, strategy, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	sources := make([]domain.RetrievalResult, len(relevant))
	copy(sources, relevant)
	for i := range sources {
		sources[i].Text = truncate(sources[i].Text, 300)
	}

	return &Answer{
		Text:       text,
		Sources:    sources,
		Confidence: relevant[0].Score,
		Strategy:   strategy,
	}, nil
}

const promptQuestionMarker = "Question: "
const promptContextMarker = "Context:\n"

// buildPrompt assembles the generation prompt with the context block
// bounded by maxChars.
func buildPrompt(question string, results []domain.RetrievalResult, maxChars int) string {
	var ctx strings.Builder
	for _, r := range results {
		entry := fmt.Sprintf("From '%s' (%s):\n%s\n\n", r.Title, r.DocumentID, r.Text)
		if ctx.Len()+len(entry) > maxChars {
			remaining := maxChars - ctx.Len()
			if remaining > 0 {
				ctx.WriteString(entry[:remaining])
			}
			break
		}
		ctx.WriteString(entry)
	}

	var b strings.Builder
	b.WriteString("You are a document assistant. Answer the question using ONLY the context below. ")
	b.WriteString("If the context does not contain the answer, say you do not know. ")
	b.WriteString("Do not give medical or personal health advice.\n\n")
	b.WriteString(promptContextMarker)
	b.WriteString(ctx.String())
	b.WriteString("\n")
	b.WriteString(promptQuestionMarker)
	b.WriteString(question)
	return b.String()
}

// splitPrompt recovers the question and context portions of a prompt built
// by buildPrompt. The heuristic strategy uses it to answer locally.
func splitPrompt(prompt string) (question, contextText string) {
	if i := strings.LastIndex(prompt, promptQuestionMarker); i >= 0 {
		question = strings.TrimSpace(prompt[i+len(promptQuestionMarker):])
		prompt = prompt[:i]
	}
	if i := strings.Index(prompt, promptContextMarker); i >= 0 {
		contextText = strings.TrimSpace(prompt[i+len(promptContextMarker):])
	}
	return question, contextText
}

// truncate cuts s to at most n bytes on a rune boundary so the result stays
// valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
