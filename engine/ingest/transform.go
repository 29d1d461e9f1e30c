package ingest

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target number of words per chunk.
	DefaultChunkSize = 200
	// DefaultOverlap is the number of overlapping words between chunks.
	DefaultOverlap = 20
	// DefaultBoundaryWindow is how far back (in words) a chunk end may be
	// pulled to land on a sentence boundary.
	DefaultBoundaryWindow = 40
)

// ChunkWords splits text into word-based chunks of roughly chunkSize words
// with overlap words shared between consecutive chunks. A chunk's end is
// pulled back to the nearest sentence boundary when one falls inside the
// boundary window, so chunks tend to break between sentences rather than
// mid-thought. Whitespace-only text yields no chunks.
func ChunkWords(text string, chunkSize, overlap, window int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}
	if window < 0 {
		window = 0
	}

	var chunks []string
	start := 0
	for start < len(words) {
		end := start + chunkSize
		if end >= len(words) {
			end = len(words)
		} else if window > 0 {
			// Pull the cut back to a sentence boundary within the window.
			for b := end; b > end-window && b > start+1; b-- {
				if endsSentence(words[b-1]) {
					end = b
					break
				}
			}
		}

		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// endsSentence reports whether a word terminates a sentence, ignoring
// trailing quotes and brackets.
func endsSentence(word string) bool {
	trimmed := strings.TrimRightFunc(word, func(r rune) bool {
		return r == '"' || r == '\'' || r == ')' || r == ']'
	})
	if trimmed == "" {
		return false
	}
	last := rune(trimmed[len(trimmed)-1])
	return last == '.' || last == '!' || last == '?'
}

// TitleFromURL derives a human-readable title from a PDF URL: the final path
// segment, extension stripped, separators replaced with spaces.
func TitleFromURL(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(s, ".pdf")
	s = strings.TrimSuffix(s, ".PDF")
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == '+' {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "Untitled Document"
	}
	return capitalizeWords(s)
}

func capitalizeWords(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		r := []rune(f)
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}
