package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestEmbedClient_TruncatesAndDecodes(t *testing.T) {
	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewEmbedClient(EmbedOpts{BaseURL: srv.URL, Model: "embed-model", Dims: 3, MaxChars: 10})
	vec, err := c.Embed(context.Background(), strings.Repeat("x", 50))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("dims = %d", len(vec))
	}
	if len(gotReq.InputText) != 10 {
		t.Errorf("input not truncated, len = %d", len(gotReq.InputText))
	}
	if gotReq.Model != "embed-model" || gotReq.Dimensions != 3 || !gotReq.Normalize {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestEmbedClient_TruncatesOnRuneBoundary(t *testing.T) {
	var gotReq embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float64{0.1}})
	}))
	defer srv.Close()

	// "é" is 2 bytes; a byte-9 cut lands mid-rune and must back up.
	c := NewEmbedClient(EmbedOpts{BaseURL: srv.URL, Dims: 1, MaxChars: 9})
	if _, err := c.Embed(context.Background(), strings.Repeat("é", 20)); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !utf8.ValidString(gotReq.InputText) {
		t.Errorf("truncated input is invalid UTF-8: %q", gotReq.InputText)
	}
	if len(gotReq.InputText) != 8 {
		t.Errorf("truncated length = %d, want 8", len(gotReq.InputText))
	}
}

func TestEmbedClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewEmbedClient(EmbedOpts{BaseURL: srv.URL})
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestEmbedClient_EmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	c := NewEmbedClient(EmbedOpts{BaseURL: srv.URL})
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestClient_InvokeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/my-model/invoke" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"content":[{"text":"hi"}]}`))
	}))
	defer srv.Close()

	c := NewClient(InvokeOpts{BaseURL: srv.URL})
	out, err := c.Invoke(context.Background(), "my-model", []byte(`{}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(string(out), "hi") {
		t.Errorf("out = %s", out)
	}
}

func TestClient_InvokeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(InvokeOpts{BaseURL: srv.URL})
	if _, err := c.Invoke(context.Background(), "m", nil); err == nil {
		t.Fatal("expected error on 429")
	}
}
