package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultExpandWorkers is the size of the expansion worker pool
	DefaultExpandWorkers = 30
	// DefaultHTTPTimeout bounds each expansion request
	DefaultHTTPTimeout = 20 * time.Second

	maxRedirects  = 30
	maxHTMLBytes  = 1 << 20
	userAgentName = "misinfo-twitter-expander/1.0"
)

// Expansion is the resolved destination of one short URL.
type Expansion struct {
	Short    string
	Expanded string
	Domain   string
}

// Fallback is asked for a destination when following redirects did not move
// away from the short URL. An empty result means it found nothing.
type Fallback interface {
	Expand(ctx context.Context, shortURL string) (string, error)
}

// Expander resolves short links by following their redirects.
type Expander struct {
	client   *http.Client
	fallback Fallback
	workers  int
}

// NewExpander creates an Expander. Non-positive arguments take the defaults;
// fallback may be nil.
func NewExpander(timeout time.Duration, workers int, fallback Fallback) *Expander {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if workers <= 0 {
		workers = DefaultExpandWorkers
	}
	return &Expander{
		client:   newHTTPClient(timeout),
		fallback: fallback,
		workers:  workers,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// withTrailingSlash normalizes an expansion so it always ends with "/".
func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// follow issues a HEAD request and returns the URL of the final response.
func (e *Expander) follow(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentName)
	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Request.URL.String(), nil
}

// Resolve returns the destination of shortURL. Request failures leave the URL
// unchanged. When no redirect happened the fallback is consulted once.
// A single attempt is made; there is no retry.
func (e *Expander) Resolve(ctx context.Context, shortURL string) string {
	start := time.Now()
	defer func() { ExpansionDuration.Observe(time.Since(start).Seconds()) }()

	expanded := shortURL
	final, err := e.follow(ctx, shortURL)
	if err != nil {
		slog.Debug("Expansion request failed", "url", shortURL, "error", err)
		URLExpansions.WithLabelValues("error").Inc()
	} else {
		expanded = withTrailingSlash(final)
	}

	if withTrailingSlash(expanded) != withTrailingSlash(shortURL) {
		URLExpansions.WithLabelValues("redirected").Inc()
		return expanded
	}

	if e.fallback != nil {
		alt, err := e.fallback.Expand(ctx, shortURL)
		if err != nil {
			slog.Debug("Fallback expansion failed", "url", shortURL, "error", err)
		} else if alt != "" {
			URLExpansions.WithLabelValues("fallback").Inc()
			return alt
		}
	}
	URLExpansions.WithLabelValues("unchanged").Inc()
	return shortURL
}

// ExpandAll resolves urls on a bounded worker pool. Jobs are handed over on an
// unbuffered channel, so at most Workers requests are in flight and no queue
// of pending URLs builds up. Results arrive in completion order. URLs still in
// flight when ctx is cancelled are left out of the results.
func (e *Expander) ExpandAll(ctx context.Context, urls []string) []Expansion {
	jobs := make(chan string)
	results := make(chan Expansion, e.workers)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for short := range jobs {
				expanded := e.Resolve(ctx, short)
				// A cancelled request says nothing about the URL; leave it
				// uncached so the next run retries it.
				if ctx.Err() != nil {
					URLExpansions.WithLabelValues("cancelled").Inc()
					continue
				}
				results <-Expansion{Short: short, Expanded: expanded, Domain: TopDomain(expanded)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, u := range urls {
			select {
			case jobs <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Expansion, 0, len(urls))
	done := 0
	for r := range results {
		out = append(out, r)
		done++
		if done%500 == 0 {
			slog.Info("Expansion progress", "done", done, "total", len(urls))
		}
	}
	return out
}

// ExpansionStats summarizes one cache update
type ExpansionStats struct {
	Candidates int
	Cached     int
	Expanded   int
	Changed    int
}

// Update expands every URL not yet in cache and records the results. URLs
// already cached are left alone, so running it twice costs no requests.
func (e *Expander) Update(ctx context.Context, cache *URLCache, urls []string) ExpansionStats {
	st := ExpansionStats{Candidates: len(urls)}

	seen := make(map[string]bool, len(urls))
	var pending []string
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		if _, ok := cache.Get(u); ok {
			st.Cached++
			continue
		}
		pending = append(pending, u)
	}
	slog.Info("Expanding short urls", "to_expand", len(pending), "already_cached", st.Cached, "workers", e.workers)

	for _, r := range e.ExpandAll(ctx, pending) {
		cache.Put(r.Short, r.Expanded)
		st.Expanded++
		if r.Expanded != r.Short {
			st.Changed++
		}
	}
	return st
}

// CollectShortURLs returns the distinct URLs in the url tables of days whose
// domain is a short link service, in first-seen order.
func CollectShortURLs(tablesDir string, days []string, shortLinks DomainFilter) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, day := range days {
		pairs, err := ReadRelation(TablePath(tablesDir, day, RelURL))
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			u := p[1]
			if seen[u] {
				continue
			}
			seen[u] = true
			if shortLinks.Contains(TopDomain(u)) {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

// HTMLFallback fetches the short URL with GET and looks for a destination in
// the page: a meta refresh, a canonical link or an og:url property. Some
// shorteners answer HEAD without redirecting and only send browsers on from
// the HTML.
type HTMLFallback struct {
	client *http.Client
}

// NewHTMLFallback creates an HTMLFallback with the given request timeout.
func NewHTMLFallback(timeout time.Duration) *HTMLFallback {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTMLFallback{client: newHTTPClient(timeout)}
}

var refreshURLRe = regexp.MustCompile(`(?i)url\s*=\s*['"]?([^'"\s;]+)`)

// Expand implements Fallback.
func (f *HTMLFallback) Expand(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentName)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	base := resp.Request.URL
	if withTrailingSlash(base.String()) != withTrailingSlash(shortURL) {
		return base.String(), nil
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fallback fetch of %s returned %s", shortURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHTMLBytes))
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", shortURL, err)
	}

	var candidate string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.EqualFold(s.AttrOr("http-equiv", ""), "refresh") {
			if m := refreshURLRe.FindStringSubmatch(s.AttrOr("content", "")); m != nil {
				candidate = m[1]
				return false
			}
		}
		return true
	})
	if candidate == "" {
		candidate = strings.TrimSpace(doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""))
	}
	if candidate == "" {
		candidate = strings.TrimSpace(doc.Find(`meta[property="og:url"]`).First().AttrOr("content", ""))
	}
	if candidate == "" {
		return "", nil
	}

	ref, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("bad destination %q in %s: %w", candidate, shortURL, err)
	}
	dest := base.ResolveReference(ref).String()
	if withTrailingSlash(dest) == withTrailingSlash(shortURL) {
		return "", nil
	}
	return dest, nil
}
