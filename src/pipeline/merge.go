package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MergedColumns is the header of the merged tweet table
var MergedColumns = []string{
	"tweet_id", "account_id", "location", "carmen_location",
	"keyword", "url", "expanded", "domain", "low_cred_flag",
}

// MergedRow is one row of the merged tweet table: one tweet, at most one
// keyword and at most one URL.
type MergedRow struct {
	TweetID        string
	AccountID      string
	Location       string
	CarmenLocation string
	Keyword        string
	URL            string
	Expanded       string
	Domain         string
	LowCred        bool
}

func (r MergedRow) record() []string {
	return []string{
		r.TweetID, r.AccountID, r.Location, r.CarmenLocation,
		r.Keyword, r.URL, r.Expanded, r.Domain, strconv.FormatBool(r.LowCred),
	}
}

// MergeStats summarizes one merge
type MergeStats struct {
	Days   int
	Tweets int
	Rows   int
}

// ListTableDays returns the days in tablesDir that have a complete set of
// relation tables, restricted to [start, end] when those are non-zero.
func ListTableDays(tablesDir string, start, end time.Time) ([]string, error) {
	pattern := filepath.Join(tablesDir, "*_tweet_"+RelAccount+"_table.csv")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var days []string
	for _, m := range matches {
		day := strings.TrimSuffix(filepath.Base(m), "_tweet_"+RelAccount+"_table.csv")
		t, err := time.Parse(DayLayout, day)
		if err != nil {
			continue
		}
		if (!start.IsZero() && t.Before(start)) || (!end.IsZero() && t.After(end)) {
			continue
		}
		complete := true
		for _, rel := range Relations {
			if _, err := os.Stat(TablePath(tablesDir, day, rel)); err != nil {
				slog.Warn("Incomplete table set, skipping day", "day", day, "missing", rel)
				complete = false
				break
			}
		}
		if complete {
			days = append(days, day)
		}
	}
	sort.Strings(days)
	return days, nil
}

// Merger joins the relation tables into the merged tweet table.
type Merger struct {
	tablesDir string
	cache     *URLCache
	lowCred   DomainFilter
}

// NewMerger creates a Merger. cache and lowCred may be nil.
func NewMerger(tablesDir string, cache *URLCache, lowCred DomainFilter) *Merger {
	if cache == nil {
		cache = NewURLCache()
	}
	return &Merger{tablesDir: tablesDir, cache: cache, lowCred: lowCred}
}

// joined accumulates the relation values of all days
type joined struct {
	order    []string
	account  map[string]string
	location map[string]string
	carmen   map[string]string
	keywords map[string][]string
	urls     map[string][]string
}

func newJoined() *joined {
	return &joined{
		account:  make(map[string]string),
		location: make(map[string]string),
		carmen:   make(map[string]string),
		keywords: make(map[string][]string),
		urls:     make(map[string][]string),
	}
}

func (j *joined) load(tablesDir, day string) error {
	for _, rel := range Relations {
		pairs, err := ReadRelation(TablePath(tablesDir, day, rel))
		if err != nil {
			return err
		}
		for _, p := range pairs {
			id, val := p[0], p[1]
			switch rel {
			case RelAccount:
				if _, seen := j.account[id]; !seen {
					j.account[id] = val
					j.order = append(j.order, id)
				}
			case RelLocation:
				if _, seen := j.location[id]; !seen {
					j.location[id] = val
				}
			case RelCarmenLocation:
				if _, seen := j.carmen[id]; !seen {
					j.carmen[id] = val
				}
			case RelKeyword:
				j.keywords[id] = appendUnique(j.keywords[id], val)
			case RelURL:
				j.urls[id] = appendUnique(j.urls[id], val)
			}
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// Rows joins the loaded tables. Account, location and resolved location are
// required for a tweet to appear; keywords and URLs are left-joined, so a
// tweet with K keywords and N URLs yields K*N rows and a tweet with neither
// yields one row with those columns empty.
func (m *Merger) Rows(days []string) ([]MergedRow, error) {
	j := newJoined()
	for _, day := range days {
		if err := j.load(m.tablesDir, day); err != nil {
			return nil, err
		}
	}

	var rows []MergedRow
	for _, id := range j.order {
		location, okLoc := j.location[id]
		carmen, okCarmen := j.carmen[id]
		if !okLoc || !okCarmen {
			slog.Debug("Tweet missing location tables, dropped from merge", "tweet_id", id)
			continue
		}
		keywords := j.keywords[id]
		if len(keywords) == 0 {
			keywords = []string{""}
		}
		urls := j.urls[id]
		if len(urls) == 0 {
			urls = []string{""}
		}
		for _, kw := range keywords {
			for _, u := range urls {
				row := MergedRow{
					TweetID:        id,
					AccountID:      j.account[id],
					Location:       location,
					CarmenLocation: carmen,
					Keyword:        kw,
					URL:            u,
				}
				m.classify(&row)
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// classify fills the expanded URL, its domain and the low-credibility flag.
func (m *Merger) classify(row *MergedRow) {
	if row.URL == "" {
		return
	}
	row.Expanded = row.URL
	if exp, ok := m.cache.Get(row.URL); ok && exp != "" {
		row.Expanded = exp
	}
	row.Domain = TopDomain(row.Expanded)
	row.LowCred = row.Domain != "" && m.lowCred != nil && m.lowCred.Contains(row.Domain)
}

// Merge writes the merged table for days to outPath, replacing any previous
// version.
func (m *Merger) Merge(days []string, outPath string) (MergeStats, error) {
	st := MergeStats{Days: len(days)}
	rows, err := m.Rows(days)
	if err != nil {
		return st, err
	}

	tweets := make(map[string]bool)
	for _, r := range rows {
		tweets[r.TweetID] = true
	}
	st.Tweets = len(tweets)
	st.Rows = len(rows)

	if err := writeCSV(outPath, MergedColumns, func(w *csv.Writer) error {
		for _, r := range rows {
			if err := w.Write(r.record()); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return st, err
	}
	MergedRows.Add(float64(len(rows)))
	slog.Info("Merged table written", "path", outPath, "days", st.Days, "tweets", st.Tweets, "rows", st.Rows)
	return st, nil
}

// ReadRelation reads a two-column relation table, skipping its header.
func ReadRelation(path string) ([][2]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	var pairs [][2]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(row) < 2 {
			slog.Warn("Skipping short relation row", "table", path, "row", row)
			continue
		}
		pairs = append(pairs, [2]string{row[0], row[1]})
	}
	return pairs, nil
}

// writeCSV writes header and rows to a temporary file and renames it to path.
func writeCSV(path string, header []string, rows func(w *csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create output %s: %w", tmp, err)
	}
	w := csv.NewWriter(f)
	werr := w.Write(header)
	if werr == nil {
		werr = rows(w)
	}
	w.Flush()
	if werr == nil {
		werr = w.Error()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, werr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
