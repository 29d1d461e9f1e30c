package ingest

import (
	"strings"
	"testing"
)

func words(n int, terminal bool) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "word"
	}
	if terminal && n > 0 {
		parts[n-1] = "word."
	}
	return strings.Join(parts, " ")
}

func TestChunkWords_Empty(t *testing.T) {
	if got := ChunkWords("", 200, 20, 40); got != nil {
		t.Fatalf("expected nil for empty text, got %d chunks", len(got))
	}
	if got := ChunkWords("   \n\t  ", 200, 20, 40); got != nil {
		t.Fatalf("expected nil for whitespace text, got %d chunks", len(got))
	}
}

func TestChunkWords_ShortTextSingleChunk(t *testing.T) {
	text := "just a few words here"
	chunks := ChunkWords(text, 200, 20, 40)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk mismatch: %q", chunks[0])
	}
}

func TestChunkWords_Overlap(t *testing.T) {
	text := words(250, false)
	chunks := ChunkWords(text, 100, 10, 0)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// With no boundary window the chunk cut is exact: the last 10 words of
	// chunk N are the first 10 of chunk N+1.
	first := strings.Fields(chunks[0])
	second := strings.Fields(chunks[1])
	if len(first) != 100 {
		t.Fatalf("expected 100 words in first chunk, got %d", len(first))
	}
	tail := strings.Join(first[90:], " ")
	head := strings.Join(second[:10], " ")
	if tail != head {
		t.Errorf("overlap mismatch: tail=%q head=%q", tail, head)
	}
}

func TestChunkWords_SentenceBoundary(t *testing.T) {
	// 50 words ending in a period, then 100 plain words. With chunk size 100
	// and window 60, the first chunk should end at the sentence boundary.
	text := words(50, true) + " " + words(100, false)
	chunks := ChunkWords(text, 100, 0, 60)
	first := strings.Fields(chunks[0])
	if len(first) != 50 {
		t.Fatalf("expected first chunk cut at sentence boundary (50 words), got %d", len(first))
	}
	if !strings.HasSuffix(chunks[0], ".") {
		t.Errorf("expected chunk to end with period: %q", chunks[0][len(chunks[0])-10:])
	}
}

func TestChunkWords_CoversAllText(t *testing.T) {
	text := words(523, false)
	chunks := ChunkWords(text, 100, 10, 20)

	total := 0
	for _, c := range chunks {
		total += len(strings.Fields(c))
	}
	// Overlap duplicates words, so the sum must be at least the input size.
	if total < 523 {
		t.Errorf("chunks cover %d words, want >= 523", total)
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last[strings.LastIndex(last, " ")+1:]) {
		t.Error("last chunk does not reach end of text")
	}
}

func TestChunkWords_ForwardProgress(t *testing.T) {
	// Degenerate parameters must still terminate.
	chunks := ChunkWords(words(10, false), 2, 5, 0)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
}

func TestEndsSentence(t *testing.T) {
	tests := []struct {
		word string
		want bool
	}{
		{"end.", true},
		{"end!", true},
		{"end?", true},
		{`end."`, true},
		{"end.)", true},
		{"middle", false},
		{"e.g.", true},
		{"", false},
		{`"`, false},
	}
	for _, tt := range tests {
		if got := endsSentence(tt.word); got != tt.want {
			t.Errorf("endsSentence(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
}

func TestTitleFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/docs/annual_report_2024.pdf", "Annual Report 2024"},
		{"https://example.com/a/b/user-guide.PDF", "User Guide"},
		{"https://example.com/file.pdf?version=2#page=3", "File"},
		{"https://example.com/", "Untitled Document"},
		{"https://example.com/one+two.pdf", "One Two"},
	}
	for _, tt := range tests {
		if got := TitleFromURL(tt.url); got != tt.want {
			t.Errorf("TitleFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
