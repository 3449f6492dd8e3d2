package geo

import (
	"os"
	"path/filepath"
	"testing"

	"misinfo-twitter/src/tweets"
)

func user(location string) *tweets.User {
	return &tweets.User{IDStr: "1", Location: &location}
}

func testResolver() *GazetteerResolver {
	r := NewGazetteerResolver()
	r.Add(Location{ID: 1, Country: "United States", Known: true}, "USA", "US")
	r.Add(Location{ID: 2, Country: "United States", State: "Illinois", Known: true}, "IL")
	r.Add(Location{ID: 3, Country: "United States", State: "Missouri", Known: true}, "MO")
	r.Add(Location{ID: 4, Country: "United States", State: "Missouri", City: "Springfield", Known: true})
	r.Add(Location{ID: 5, Country: "United States", State: "Illinois", City: "Springfield", Known: true})
	r.Add(Location{ID: 6, Country: "Mexico", State: "Nuevo León", City: "Monterrey", Known: true})
	r.Add(Location{ID: 7, Country: "United States", State: "Indiana", County: "Monroe County", Known: true})
	return r
}

func TestLocationStringRoundTrip(t *testing.T) {
	testCases := []Location{
		{ID: 3, Country: "United States", State: "Indiana", County: "Monroe County", City: "Bloomington", Known: true},
		{ID: 0, Country: "United Kingdom"},
		{ID: 12, Country: "Côte d'Ivoire", City: `Back\slash`, Known: true},
	}
	for _, loc := range testCases {
		s := loc.String()
		got, ok := ParseLocation(s)
		if !ok {
			t.Fatalf("ParseLocation(%q) failed", s)
		}
		if got != loc {
			t.Errorf("Round trip mismatch:\nin:  %+v\nout: %+v\nstr: %s", loc, got, s)
		}
	}
}

func TestLocationStringFormat(t *testing.T) {
	loc := Location{ID: 2206, Country: "United Kingdom", State: "England", County: "London", City: "London", Known: true}
	expected := "Location(country='United Kingdom', state='England', county='London', city='London', known=True, id=2206)"
	if loc.String() != expected {
		t.Errorf("Expected %s, got %s", expected, loc.String())
	}
}

func TestParseLocationRejects(t *testing.T) {
	for _, s := range []string{NoMatch, "", "United States", "Location(id=abc)"} {
		if _, ok := ParseLocation(s); ok {
			t.Errorf("Expected ParseLocation(%q) to fail", s)
		}
	}
}

func TestNormalize(t *testing.T) {
	testCases := map[string]string{
		"  Monterrey,  Nuevo León ": "monterrey, nuevo leon",
		"St. Louis":                 "st louis",
		"NEW YORK!!":                "new york",
		"🌎 everywhere":              "everywhere",
		"":                          "",
	}
	for in, expected := range testCases {
		if got := Normalize(in); got != expected {
			t.Errorf("Normalize(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestResolve(t *testing.T) {
	r := testResolver()

	testCases := []struct {
		name     string
		location string
		wantID   int
		wantOK   bool
	}{
		{"Country alias", "USA", 1, true},
		{"Qualified city disambiguates", "Springfield, IL", 5, true},
		{"Qualified city other state", "springfield, mo", 4, true},
		{"Accents folded", "Monterrey, Nuevo Leon", 6, true},
		{"County name", "Monroe County, Indiana", 7, true},
		{"Unqualified ambiguous city picks first", "Springfield", 4, true},
		{"Unknown text", "the moon", 0, false},
		{"Trailing junk ignored", "Missouri, somewhere nice", 3, true},
		{"Empty", "", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loc, ok := r.Resolve(user(tc.location))
			if ok != tc.wantOK {
				t.Fatalf("Resolve(%q) ok=%v, expected %v", tc.location, ok, tc.wantOK)
			}
			if ok && loc.ID != tc.wantID {
				t.Errorf("Resolve(%q) = %+v, expected id %d", tc.location, loc, tc.wantID)
			}
		})
	}
}

func TestResolveMissingUserFields(t *testing.T) {
	r := testResolver()
	if _, ok := r.Resolve(nil); ok {
		t.Error("Expected nil user to resolve to nothing")
	}
	if _, ok := r.Resolve(&tweets.User{IDStr: "1"}); ok {
		t.Error("Expected null location to resolve to nothing")
	}
}

func TestResolveIsPure(t *testing.T) {
	r := testResolver()
	first, _ := r.Resolve(user("Springfield, IL"))
	for i := 0; i < 5; i++ {
		again, _ := r.Resolve(user("Springfield, IL"))
		if again != first {
			t.Fatal("Expected repeated resolution to return the same location")
		}
	}
}

func TestLoadGazetteer(t *testing.T) {
	content := `# test gazetteer
{"id": 1, "country": "United States", "known": true, "aliases": ["USA"]}

{"id": 8, "country": "United States", "state": "Indiana", "city": "Bloomington", "known": true, "aliases": ["btown"]}
`
	path := filepath.Join(t.TempDir(), "gazetteer.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadGazetteer(path)
	if err != nil {
		t.Fatalf("LoadGazetteer failed: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 locations, got %d", r.Len())
	}
	loc, ok := r.Resolve(user("BTown"))
	if !ok || loc.City != "Bloomington" || !loc.Known {
		t.Errorf("Expected alias to resolve to Bloomington, got %+v", loc)
	}
}

func TestLoadGazetteerBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gazetteer.json")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadGazetteer(path); err == nil {
		t.Error("Expected error for malformed gazetteer line")
	}
}
