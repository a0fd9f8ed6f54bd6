package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/communitypulse/forum-pulse/app/retry"
	"github.com/communitypulse/forum-pulse/app/source"
)

// maxResponseBytes caps how much of a page body is read. Forum pages are
// far smaller; anything past this is a misbehaving source.
const maxResponseBytes = 10 << 20

// RawPage is transient fetched content handed to the extractor. It is never
// persisted and is discarded after extraction.
type RawPage struct {
	URL       string
	Body      []byte
	Status    int
	FetchedAt time.Time
}

// FetchError reports a transport-level failure for one source page.
type FetchError struct {
	Source string
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result is one entry in the lazy page stream: either a page or the error
// that prevented it.
type Result struct {
	Page *RawPage
	Err  error
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error: %d", e.code)
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	policy    retry.Policy
}

func New(client *http.Client, userAgent string, policy retry.Policy) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	policy.Retryable = retryableFetch
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		policy:    policy,
	}
}

// retryableFetch retries transport hiccups and 5xx responses. 4xx responses
// are wrapped as permanent before this predicate runs.
func retryableFetch(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return retry.IsTransient(err)
}

// ForSource binds the fetcher to one source's pacing rules: a minimum
// inter-request interval and a cap on concurrent in-flight requests.
func (f *Fetcher) ForSource(src *source.Config) *SourceFetcher {
	interval := time.Duration(src.Settings.MinRequestIntervalMs) * time.Millisecond
	return &SourceFetcher{
		fetcher: f,
		src:     src,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		sem:     semaphore.NewWeighted(int64(src.Settings.MaxConcurrentFetches)),
	}
}

type SourceFetcher struct {
	fetcher *Fetcher
	src     *source.Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// ListingPages streams the source's listing pages as they complete, so
// downstream extraction overlaps with further fetching. The channel closes
// after the last page or on context cancellation.
func (sf *SourceFetcher) ListingPages(ctx context.Context) <-chan Result {
	results := make(chan Result)

	go func() {
		defer close(results)

		for _, url := range sf.listingURLs() {
			if ctx.Err() != nil {
				return
			}

			page, err := sf.Page(ctx, url)

			var res Result
			if err != nil {
				res = Result{Err: err}
			} else {
				res = Result{Page: page}
			}

			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results
}

// Page fetches a single page through the source's rate limiter, concurrency
// cap, and retry policy.
func (sf *SourceFetcher) Page(ctx context.Context, url string) (*RawPage, error) {
	if err := sf.sem.Acquire(ctx, 1); err != nil {
		return nil, &FetchError{Source: sf.src.Source.ID, URL: url, Err: err}
	}
	defer sf.sem.Release(1)

	var page *RawPage
	err := sf.fetcher.policy.Do(ctx, "fetch "+sf.src.Source.ID, func(ctx context.Context) error {
		if err := sf.limiter.Wait(ctx); err != nil {
			return err
		}

		fetched, err := sf.fetcher.get(ctx, url, sf.src.Settings.Timeout)
		if err != nil {
			return err
		}
		page = fetched
		return nil
	})
	if err != nil {
		return nil, &FetchError{Source: sf.src.Source.ID, URL: url, Err: err}
	}

	slog.Debug("Page fetched", "source", sf.src.Source.ID, "url", url, "bytes", len(page.Body))
	return page, nil
}

func (sf *SourceFetcher) listingURLs() []string {
	template := sf.src.Source.ListingURL
	if !strings.Contains(template, "{page}") {
		return []string{template}
	}

	urls := make([]string, 0, sf.src.Source.Pages)
	for page := 1; page <= sf.src.Source.Pages; page++ {
		urls = append(urls, strings.ReplaceAll(template, "{page}", strconv.Itoa(page)))
	}
	return urls
}

func (f *Fetcher) get(ctx context.Context, url string, timeoutSec int) (*RawPage, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &retry.Permanent{Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &statusError{code: resp.StatusCode}
	case resp.StatusCode >= 400:
		// Client errors are permanent: logged and skipped, never retried.
		return nil, &retry.Permanent{Err: &statusError{code: resp.StatusCode}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, &retry.Permanent{Err: fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)}
	}

	return &RawPage{
		URL:       url,
		Body:      body,
		Status:    resp.StatusCode,
		FetchedAt: time.Now().UTC(),
	}, nil
}
