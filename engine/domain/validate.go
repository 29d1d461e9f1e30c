package domain

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const minQuestionLength = 3

// ValidateQuestion checks a user question before it reaches the answer
// engine. Empty (or effectively empty) questions are the only hard
// validation failure; relevance misses are handled downstream.
func ValidateQuestion(q string) error {
	text := strings.TrimSpace(q)
	if text == "" {
		return NewValidationError("question", q, ErrEmptyQuestion)
	}
	if utf8.RuneCountInString(text) < minQuestionLength {
		return NewValidationError("question", text, ErrEmptyQuestion)
	}
	return nil
}

// ValidateSourceURL checks that a batch item URL is absolute http(s).
func ValidateSourceURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return NewValidationError("url", raw, ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return NewValidationError("url", raw, ErrInvalidURL)
	}
	return nil
}

// ValidateBatch checks each source URL for a new ingestion job. An empty
// batch is valid; it becomes an immediately completed job with zero counts.
func ValidateBatch(urls []string) error {
	for _, u := range urls {
		if err := ValidateSourceURL(u); err != nil {
			return err
		}
	}
	return nil
}
