// Package template fetches the HTML shell from the asset server and splits it
// around the placeholder the rendered page is spliced into.
package template

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conneroisu/ssrdev/internal/errors"
	"github.com/conneroisu/ssrdev/internal/logging"
)

// DefaultMaxSize bounds a template response. Larger templates are a fetch
// error rather than a truncated page.
const DefaultMaxSize = 8 << 20

// ErrPlaceholderMissing matches templates without the placeholder marker.
var ErrPlaceholderMissing = &errors.DevError{Type: errors.ErrorTypeConfig, Code: errors.CodeMissingMarker}

// Page is a template split at its placeholder.
type Page struct {
	Head string
	Tail string
	// Occurrences counts the markers found. Only the first is replaced.
	Occurrences int
}

// Split cuts template at the first occurrence of marker. Bytes before and
// after the marker are kept verbatim.
func Split(template, marker string) (Page, error) {
	if marker == "" {
		return Page{}, errors.NewConfigError(errors.CodeInvalidConfig, "placeholder marker is empty", nil)
	}
	head, tail, found := strings.Cut(template, marker)
	if !found {
		return Page{}, errors.NewConfigError(errors.CodeMissingMarker,
			fmt.Sprintf("template does not contain placeholder %q", marker), nil)
	}
	return Page{
		Head:        head,
		Tail:        tail,
		Occurrences: 1 + strings.Count(tail, marker),
	}, nil
}

// Fetcher retrieves the current template. Every call goes to the asset
// server; nothing is cached.
type Fetcher struct {
	url     string
	client  *http.Client
	timeout time.Duration
	maxSize int64
	logger  logging.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithMaxSize changes the largest template accepted.
func WithMaxSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = l.WithComponent("template")
	}
}

// NewFetcher creates a fetcher for url. A positive timeout bounds each fetch.
func NewFetcher(url string, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		url:     url,
		client:  http.DefaultClient,
		timeout: timeout,
		maxSize: DefaultMaxSize,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the template address.
func (f *Fetcher) URL() string {
	return f.url
}

// Fetch returns the template text. Transport failures and non-2xx responses
// are fetch errors.
func (f *Fetcher) Fetch(ctx context.Context) (string, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return "", errors.NewFetchError("building template request", err)
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", errors.NewFetchError("template request failed", err).WithContext("url", f.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", errors.NewFetchError(
			fmt.Sprintf("asset server answered %s", resp.Status), nil,
		).WithContext("url", f.url).WithContext("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", errors.NewFetchError("reading template", err).WithContext("url", f.url)
	}
	if int64(len(body)) > f.maxSize {
		return "", errors.NewFetchError(
			fmt.Sprintf("template exceeds %d bytes", f.maxSize), nil,
		).WithContext("url", f.url).WithContext("limit", f.maxSize)
	}

	f.logger.Debug(ctx, "Template fetched", "url", f.url, "bytes", len(body))
	return string(body), nil
}
