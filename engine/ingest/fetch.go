package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/docpilot-ai/docpilot/engine/domain"
	"github.com/docpilot-ai/docpilot/pkg/fn"
)

const (
	// MaxPDFBytes caps the size of a downloaded PDF.
	MaxPDFBytes = 64 << 20
	// userAgent identifies the crawler to origin servers.
	userAgent = "docpilot/1.0 (+https://github.com/docpilot-ai/docpilot)"
)

// Fetcher downloads a PDF source and returns its extracted document.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) (domain.Document, error)
}

// CommandRunner executes an external command and returns its stdout. It
// exists so extraction is testable without a pdftotext binary.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// FetchOpts configures the HTTP fetcher.
type FetchOpts struct {
	Timeout time.Duration
	Runner  CommandRunner
}

// DefaultFetchOpts returns production fetch settings.
func DefaultFetchOpts() FetchOpts {
	return FetchOpts{
		Timeout: 60 * time.Second,
		Runner:  ExecRunner,
	}
}

// HTTPFetcher downloads PDFs over HTTP and extracts their text through
// the pdftotext binary.
type HTTPFetcher struct {
	client *http.Client
	runner CommandRunner
}

// NewHTTPFetcher creates a Fetcher with the given options.
func NewHTTPFetcher(opts FetchOpts) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: opts.Timeout},
		runner: opts.Runner,
	}
}

// Fetch downloads the PDF at sourceURL and extracts its text. The document
// ID is a deterministic UUID of the source URL so re-ingesting the same URL
// overwrites rather than duplicates.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (domain.Document, error) {
	if err := domain.ValidateSourceURL(sourceURL); err != nil {
		return domain.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: fetch %s: %w", sourceURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: fetch %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Document{}, fmt.Errorf("ingest: fetch %s: status %d", sourceURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxPDFBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: fetch %s: read: %w", sourceURL, err)
	}
	if len(raw) > MaxPDFBytes {
		return domain.Document{}, fmt.Errorf("ingest: fetch %s: exceeds %d bytes", sourceURL, MaxPDFBytes)
	}
	if len(raw) == 0 {
		return domain.Document{}, domain.ErrEmptyDocument
	}

	text, pages, err := f.extractText(ctx, raw)
	if err != nil {
		return domain.Document{}, fmt.Errorf("ingest: extract %s: %w", sourceURL, err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.Document{}, domain.ErrEmptyDocument
	}

	return domain.Document{
		ID:          domain.DocumentID(sourceURL),
		SourceURL:   sourceURL,
		Title:       TitleFromURL(sourceURL),
		RawText:     text,
		PageCount:   pages,
		ProcessedAt: time.Now().UTC(),
	}, nil
}

// extractText runs pdftotext over the PDF bytes. Form feeds separating pages
// become explicit page markers so retrieval results can cite a location.
func (f *HTTPFetcher) extractText(ctx context.Context, raw []byte) (string, int, error) {
	tmp, err := os.CreateTemp("", "docpilot-*.pdf")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}

	out, err := f.runner(ctx, "pdftotext", "-layout", tmp.Name(), "-")
	if err != nil {
		return "", 0, fmt.Errorf("pdftotext: %w", err)
	}

	pages := strings.Split(string(out), "\f")
	var sb strings.Builder
	count := 0
	for i, p := range pages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		count++
		fmt.Fprintf(&sb, "--- Page %d ---\n%s\n", i+1, p)
	}
	return sb.String(), count, nil
}

var pdfLinkRe = regexp.MustCompile(`(?i)href=["']([^"']+\.pdf(?:\?[^"']*)?)["']`)

// ExtractPDFLinks scans an HTML page for anchors pointing at PDFs and
// resolves them against the page URL. Duplicate targets collapse to one.
func ExtractPDFLinks(pageURL, html string) ([]domain.PDFLink, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse page url %s: %w", pageURL, err)
	}

	var links []domain.PDFLink
	for _, m := range pdfLinkRe.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(m[1])
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			continue
		}
		links = append(links, domain.PDFLink{
			Title: TitleFromURL(abs.String()),
			URL:   abs.String(),
		})
	}
	return fn.UniqueBy(links, func(l domain.PDFLink) string { return l.URL }), nil
}

// DiscoverPDFs downloads an HTML page and returns the PDF links it exposes.
func (f *HTTPFetcher) DiscoverPDFs(ctx context.Context, pageURL string) ([]domain.PDFLink, error) {
	if err := domain.ValidateSourceURL(pageURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ingest: discover %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest: discover %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: discover %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPDFBytes))
	if err != nil {
		return nil, fmt.Errorf("ingest: discover %s: read: %w", pageURL, err)
	}
	return ExtractPDFLinks(pageURL, string(body))
}
