package pipeline

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"misinfo-twitter/src/tweets"
)

// PlatformDomain is the platform's own domain; links to it are not recorded.
const PlatformDomain = "twitter.com"

// ExtractURLs returns the distinct URLs referenced by a tweet, read from its
// entities, its extended entities, and the same two places on the retweeted
// status. The expanded form of an entry is preferred over its short form.
// URLs are returned in first-seen order.
func ExtractURLs(tw *tweets.Tweet) []string {
	if tw == nil {
		return nil
	}
	sources := [][]tweets.URLEntity{
		tw.EntityURLs(),
		tw.ExtendedEntityURLs(),
		tw.RetweetedStatus.EntityURLs(),
		tw.RetweetedStatus.ExtendedEntityURLs(),
	}

	seen := make(map[string]bool)
	var out []string
	for _, entries := range sources {
		for _, e := range entries {
			u := e.URL
			if e.ExpandedURL != "" {
				u = e.ExpandedURL
			}
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// TopDomain reduces a URL to its registered domain plus public suffix,
// lower-cased: "https://www.bbc.co.uk/news" -> "bbc.co.uk". Subdomains of
// privately registered suffixes collapse to the ICANN registration
// ("foo.blogspot.com" -> "blogspot.com"). Returns "" when no host can be found.
func TopDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}

	suffix, icann := publicsuffix.PublicSuffix(host)
	for !icann {
		i := strings.IndexByte(suffix, '.')
		if i < 0 {
			break
		}
		suffix, icann = publicsuffix.PublicSuffix(suffix[i+1:])
	}
	if suffix == host || !strings.HasSuffix(host, "."+suffix) {
		return host
	}
	rest := strings.TrimSuffix(host, "."+suffix)
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[i+1:]
	}
	return rest + "." + suffix
}

func hostOf(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimSuffix(host, ".")
}
