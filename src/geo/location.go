package geo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NoMatch is written in place of a resolved location when nothing matched.
const NoMatch = "No match!"

// Location is a normalized place. Empty fields mean the level is unknown
// (a country-level location has no state, county or city).
type Location struct {
	ID      int    `json:"id"`
	Country string `json:"country"`
	State   string `json:"state"`
	County  string `json:"county"`
	City    string `json:"city"`
	Known   bool   `json:"known"`
}

// String renders the location in the form stored in the carmen_location column:
//
//	Location(country='United States', state='Indiana', county='Monroe County', city='Bloomington', known=True, id=3)
func (l Location) String() string {
	known := "False"
	if l.Known {
		known = "True"
	}
	return fmt.Sprintf("Location(country=%s, state=%s, county=%s, city=%s, known=%s, id=%d)",
		quote(l.Country), quote(l.State), quote(l.County), quote(l.City), known, l.ID)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

var fieldRe = regexp.MustCompile(`(\w+)=('(?:[^'\\]|\\.)*'|[A-Za-z0-9_-]+)`)

// ParseLocation reverses Location.String. It reports false for the NoMatch
// sentinel and for anything that is not a rendered location.
func ParseLocation(s string) (Location, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "Location(") || !strings.HasSuffix(s, ")") {
		return Location{}, false
	}
	body := s[len("Location(") : len(s)-1]

	var loc Location
	for _, m := range fieldRe.FindAllStringSubmatch(body, -1) {
		key, raw := m[1], m[2]
		val := raw
		if strings.HasPrefix(raw, "'") {
			val = unquote(raw[1 : len(raw)-1])
		}
		switch key {
		case "country":
			loc.Country = val
		case "state":
			loc.State = val
		case "county":
			loc.County = val
		case "city":
			loc.City = val
		case "known":
			loc.Known = val == "True"
		case "id":
			id, err := strconv.Atoi(val)
			if err != nil {
				return Location{}, false
			}
			loc.ID = id
		}
	}
	return loc, true
}

func unquote(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a place name for lookup: accents removed, lower-cased,
// punctuation other than commas dropped, whitespace collapsed.
func Normalize(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ',':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
