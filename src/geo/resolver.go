package geo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"misinfo-twitter/src/tweets"
)

// Resolver maps account metadata to a normalized location.
type Resolver interface {
	Resolve(user *tweets.User) (*Location, bool)
}

// gazetteerEntry is one line of the gazetteer file
type gazetteerEntry struct {
	Location
	Aliases []string `json:"aliases"`
}

// GazetteerResolver resolves free-text profile locations against a gazetteer
// loaded once at startup. Resolve does not mutate the resolver and is safe for
// concurrent use.
type GazetteerResolver struct {
	locations []*Location
	byAlias   map[string][]*Location
}

// NewGazetteerResolver creates an empty resolver.
func NewGazetteerResolver() *GazetteerResolver {
	return &GazetteerResolver{byAlias: make(map[string][]*Location)}
}

// LoadGazetteer reads a line-delimited JSON gazetteer file.
// Each line holds a location plus an optional "aliases" array, e.g.
//
//	{"id": 3, "country": "United States", "state": "Indiana", "city": "Bloomington", "known": true, "aliases": ["btown"]}
func LoadGazetteer(filename string) (*GazetteerResolver, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open gazetteer %s: %w", filename, err)
	}
	defer file.Close()

	r := NewGazetteerResolver()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var e gazetteerEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("gazetteer %s line %d: %w", filename, lineNum, err)
		}
		r.Add(e.Location, e.Aliases...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading gazetteer %s at line %d: %w", filename, lineNum, err)
	}

	slog.Info("Gazetteer loaded", "file", filename, "locations", len(r.locations), "aliases", len(r.byAlias))
	return r, nil
}

// Add registers a location under its own most specific name, its
// "name, parent" forms and any extra aliases.
func (r *GazetteerResolver) Add(loc Location, aliases ...string) {
	l := loc
	r.locations = append(r.locations, &l)

	names := append([]string{}, aliases...)
	switch {
	case l.City != "":
		names = append(names, l.City, qualified(l.City, l.State), qualified(l.City, l.Country))
	case l.County != "":
		names = append(names, l.County, qualified(l.County, l.State))
	case l.State != "":
		names = append(names, l.State, qualified(l.State, l.Country))
	case l.Country != "":
		names = append(names, l.Country)
	}

	seen := make(map[string]bool)
	for _, n := range names {
		key := Normalize(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		r.byAlias[key] = append(r.byAlias[key], &l)
	}
}

func qualified(name, parent string) string {
	if parent == "" {
		return ""
	}
	return name + ", " + parent
}

// Len returns the number of loaded locations
func (r *GazetteerResolver) Len() int {
	return len(r.locations)
}

// Resolve matches user.location. The whole string is tried first; after that
// each comma-separated component is tried in order, preferring a candidate
// whose state or country appears in a later component ("Springfield, IL").
func (r *GazetteerResolver) Resolve(user *tweets.User) (*Location, bool) {
	if user == nil || user.Location == nil {
		return nil, false
	}
	key := Normalize(*user.Location)
	if key == "" {
		return nil, false
	}
	if cands := r.byAlias[key]; len(cands) > 0 {
		return cands[0], true
	}

	var parts []string
	for _, p := range strings.Split(key, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	var fallback *Location
	for i, p := range parts {
		cands := r.byAlias[p]
		if len(cands) == 0 {
			continue
		}
		for _, c := range cands {
			for _, later := range parts[i+1:] {
				if r.within(c, later) {
					return c, true
				}
			}
		}
		if fallback == nil {
			fallback = cands[0]
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// within reports whether name refers to the state or country containing loc.
func (r *GazetteerResolver) within(loc *Location, name string) bool {
	for _, parent := range r.byAlias[name] {
		if parent.City != "" || parent.County != "" {
			continue
		}
		if parent.State != "" && parent.State == loc.State && parent.Country == loc.Country {
			return true
		}
		if parent.State == "" && parent.Country == loc.Country {
			return true
		}
	}
	return false
}
