package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

type stubFallback struct {
	result string
	err    error
	calls  int32
}

func (s *stubFallback) Expand(ctx context.Context, shortURL string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.result, s.err
}

func redirectServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/short/", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		http.Redirect(w, r, "/final"+r.URL.Path[len("/short"):], http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveFollowsRedirects(t *testing.T) {
	srv := redirectServer(t, nil)
	fb := &stubFallback{result: "http://never.example/"}
	e := NewExpander(2*time.Second, 1, fb)

	got := e.Resolve(context.Background(), srv.URL+"/short/abc")
	expected := srv.URL + "/final/abc/"
	if got != expected {
		t.Errorf("Expected %s, got %s", expected, got)
	}
	if fb.calls != 0 {
		t.Errorf("Fallback must not be consulted after a redirect, got %d calls", fb.calls)
	}
}

func TestResolveNoRedirectUsesFallback(t *testing.T) {
	srv := redirectServer(t, nil)
	fb := &stubFallback{result: "http://example.com/"}
	e := NewExpander(2*time.Second, 1, fb)

	if got := e.Resolve(context.Background(), srv.URL+"/plain"); got != "http://example.com/" {
		t.Errorf("Expected fallback result, got %s", got)
	}
	if fb.calls != 1 {
		t.Errorf("Expected exactly one fallback call, got %d", fb.calls)
	}
}

func TestResolveNoRedirectEmptyFallbackKeepsOriginal(t *testing.T) {
	srv := redirectServer(t, nil)
	short := srv.URL + "/plain"

	for _, fb := range []Fallback{nil, &stubFallback{}, &stubFallback{err: fmt.Errorf("down")}} {
		e := NewExpander(2*time.Second, 1, fb)
		if got := e.Resolve(context.Background(), short); got != short {
			t.Errorf("Expected original url %s, got %s", short, got)
		}
	}
}

func TestResolveRequestFailureKeepsOriginal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL + "/short/gone"
	srv.Close()

	e := NewExpander(time.Second, 1, nil)
	if got := e.Resolve(context.Background(), dead); got != dead {
		t.Errorf("Expected original url on failure, got %s", got)
	}
	if got := e.Resolve(context.Background(), "::not a url"); got != "::not a url" {
		t.Errorf("Expected original url for unparsable input, got %s", got)
	}
}

func TestResolveTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer slow.Close()

	e := NewExpander(50*time.Millisecond, 1, nil)
	short := slow.URL + "/s"
	if got := e.Resolve(context.Background(), short); got != short {
		t.Errorf("Expected original url after timeout, got %s", got)
	}
}

func TestExpandAllBoundedPool(t *testing.T) {
	var hits int32
	srv := redirectServer(t, &hits)

	var urls []string
	for i := 0; i < 100; i++ {
		urls = append(urls, fmt.Sprintf("%s/short/%d", srv.URL, i))
	}

	e := NewExpander(2*time.Second, 4, nil)
	results := e.ExpandAll(context.Background(), urls)
	if len(results) != len(urls) {
		t.Fatalf("Expected %d results, got %d", len(urls), len(results))
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Short < results[j].Short })
	for _, r := range results {
		expected := srv.URL + "/final" + r.Short[len(srv.URL+"/short"):] + "/"
		if r.Expanded != expected {
			t.Errorf("Short %s: expected %s, got %s", r.Short, expected, r.Expanded)
		}
		if r.Domain != TopDomain(expected) {
			t.Errorf("Short %s: expected domain %s, got %s", r.Short, TopDomain(expected), r.Domain)
		}
	}
	if hits != 100 {
		t.Errorf("Expected 100 requests, got %d", hits)
	}
}

func TestUpdateSkipsCachedAndDuplicates(t *testing.T) {
	var hits int32
	srv := redirectServer(t, &hits)

	a := srv.URL + "/short/a"
	b := srv.URL + "/short/b"
	cache := NewURLCache()
	cache.Put(a, "http://already.example/")

	e := NewExpander(2*time.Second, 3, nil)
	st := e.Update(context.Background(), cache, []string{a, b, b, b})
	if st.Cached != 1 || st.Expanded != 1 || st.Changed != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if hits != 1 {
		t.Errorf("Expected a single request for the uncached url, got %d", hits)
	}
	if v, _ := cache.Get(a); v != "http://already.example/" {
		t.Errorf("Cached entry must not be re-expanded, got %s", v)
	}

	// Second run is a no-op
	st = e.Update(context.Background(), cache, []string{a, b})
	if st.Expanded != 0 || hits != 1 {
		t.Errorf("Expected no new requests on rerun, stats %+v hits %d", st, hits)
	}
}

// TestUpdateCancelledLeavesURLUncached tests that interrupting an expansion
// does not cache the short URL as its own destination.
//
// Rationale: cached URLs are never requested again, so an interrupted request
// recorded as "unchanged" would be lost for good.
func TestUpdateCancelledLeavesURLUncached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	short := srv.URL + "/s/abc"
	cache := NewURLCache()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	e := NewExpander(10*time.Second, 2, &stubFallback{})
	st := e.Update(ctx, cache, []string{short})
	if st.Expanded != 0 {
		t.Errorf("Expected no expansion recorded, got %+v", st)
	}
	if v, ok := cache.Get(short); ok {
		t.Fatalf("Interrupted url must not be cached, got %q", v)
	}
}

func TestHTMLFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta http-equiv="Refresh" content="0; URL='/landing/page'"></head></html>`)
	})
	mux.HandleFunc("/canonical", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><link rel="canonical" href="https://news.example.org/story"></head></html>`)
	})
	mux.HandleFunc("/og", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:url" content="https://video.example.net/v/1"></head></html>`)
	})
	mux.HandleFunc("/nothing", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>hello</body></html>`)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/nothing", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fb := NewHTMLFallback(2 * time.Second)
	testCases := map[string]string{
		"/refresh":   srv.URL + "/landing/page",
		"/canonical": "https://news.example.org/story",
		"/og":        "https://video.example.net/v/1",
		"/nothing":   "",
		"/moved":     srv.URL + "/nothing",
	}
	for path, expected := range testCases {
		got, err := fb.Expand(context.Background(), srv.URL+path)
		if err != nil {
			t.Errorf("%s: unexpected error %v", path, err)
			continue
		}
		if got != expected {
			t.Errorf("%s: expected %q, got %q", path, expected, got)
		}
	}
}

func TestCollectShortURLs(t *testing.T) {
	dir := t.TempDir()
	path := TablePath(dir, "2021-01-04", RelURL)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := csv.NewWriter(f)
	w.WriteAll([][]string{
		{"tweet_id", "url"},
		{"1", "http://bit.ly/abc"},
		{"2", "https://www.nytimes.com/2021/01/04/health/covid.html"},
		{"3", "http://bit.ly/abc"},
		{"4", "https://t.co/xyz"},
	})
	f.Close()

	urls, err := CollectShortURLs(dir, []string{"2021-01-04"}, NewSetFilter(DefaultShortLinkServices))
	if err != nil {
		t.Fatalf("CollectShortURLs failed: %v", err)
	}
	expected := []string{"http://bit.ly/abc", "https://t.co/xyz"}
	if !reflect.DeepEqual(urls, expected) {
		t.Errorf("Expected %v, got %v", expected, urls)
	}

	if _, err := CollectShortURLs(dir, []string{"2021-01-05"}, NewSetFilter(nil)); err == nil {
		t.Error("Expected error for missing url table")
	}
}
