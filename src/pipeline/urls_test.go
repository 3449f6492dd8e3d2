package pipeline

import (
	"reflect"
	"testing"

	"misinfo-twitter/src/tweets"
)

func decodeTweet(t *testing.T, raw string) *tweets.Tweet {
	t.Helper()
	tw, err := tweets.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return tw
}

func TestTopDomain(t *testing.T) {
	testCases := map[string]string{
		"http://bit.ly/abc":                    "bit.ly",
		"https://www.BBC.co.uk/news/article-1": "bbc.co.uk",
		"https://t.co/xyz":                     "t.co",
		"http://example.com/":                  "example.com",
		"example.com/path?q=1":                 "example.com",
		"https://mobile.twitter.com/i/web/1":   "twitter.com",
		"https://news.example.com:8443/x":      "example.com",
		"https://someone.blogspot.com/2021/01": "blogspot.com",
		"http://127.0.0.1:8080/x":              "127.0.0.1",
		"":                                     "",
		"http://":                              "",
	}
	for in, expected := range testCases {
		if got := TopDomain(in); got != expected {
			t.Errorf("TopDomain(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestExtractURLsFourSources(t *testing.T) {
	tw := decodeTweet(t, `{
		"id_str": "1",
		"entities": {"urls": [{"url": "https://t.co/a", "expanded_url": "http://bit.ly/abc"}, {"url": "https://t.co/b"}]},
		"extended_tweet": {"full_text": "x", "entities": {"urls": [{"url": "https://t.co/c", "expanded_url": "http://bit.ly/abc"}]}},
		"retweeted_status": {
			"id_str": "2",
			"entities": {"urls": [{"url": "https://t.co/d", "expanded_url": "https://news.example.com/story"}]},
			"extended_tweet": {"full_text": "y", "entities": {"urls": [{"url": "https://t.co/e", "expanded_url": "https://twitter.com/i/web/status/2"}]}}
		},
		"quoted_status": {
			"id_str": "3",
			"entities": {"urls": [{"url": "https://t.co/f", "expanded_url": "https://quoted.example.org/"}]}
		}
	}`)

	expected := []string{
		"http://bit.ly/abc",
		"https://t.co/b",
		"https://news.example.com/story",
		"https://twitter.com/i/web/status/2",
	}
	if got := ExtractURLs(tw); !reflect.DeepEqual(got, expected) {
		t.Errorf("ExtractURLs = %v, expected %v", got, expected)
	}
}

func TestExtractURLsNone(t *testing.T) {
	tw := decodeTweet(t, `{"id_str": "1", "text": "no links"}`)
	if got := ExtractURLs(tw); len(got) != 0 {
		t.Errorf("Expected no urls, got %v", got)
	}
	if got := ExtractURLs(nil); got != nil {
		t.Errorf("Expected nil for nil tweet, got %v", got)
	}
}
