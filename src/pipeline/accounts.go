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

	"misinfo-twitter/src/geo"
)

// AccountColumns is the header of the account summary table
var AccountColumns = []string{"account_id", "state", "county", "no_tweets", "no_low_cred_tweets", "fraction_misinfo"}

// AccountSummary is one account's activity over the observed window.
type AccountSummary struct {
	AccountID       string
	State           string
	County          string
	NoTweets        int
	NoLowCredTweets int
}

// FractionMisinfo is the share of the account's tweets that carried a
// low-credibility link, as a percentage.
func (a AccountSummary) FractionMisinfo() float64 {
	if a.NoTweets == 0 {
		return 0
	}
	return float64(a.NoLowCredTweets) / float64(a.NoTweets) * 100
}

func (a AccountSummary) record() []string {
	return []string{
		a.AccountID, a.State, a.County,
		strconv.Itoa(a.NoTweets), strconv.Itoa(a.NoLowCredTweets),
		formatFloat(a.FractionMisinfo()),
	}
}

// formatFloat renders f with the shortest exact representation, always
// keeping a decimal point ("30.0", "33.333333333333336").
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// AggregateOptions controls Aggregate
type AggregateOptions struct {
	// Country keeps rows whose resolved location is in this country.
	Country string
	// Keywords, when non-empty, keeps only rows matched by one of these
	// keywords. The filter is applied before grouping.
	Keywords []string
}

// Aggregate groups merged rows by account. Accounts are returned sorted by id.
func Aggregate(rows []MergedRow, opts AggregateOptions) []AccountSummary {
	var kw map[string]bool
	if len(opts.Keywords) > 0 {
		kw = make(map[string]bool, len(opts.Keywords))
		for _, k := range opts.Keywords {
			kw[k] = true
		}
	}

	type acc struct {
		summary AccountSummary
		tweets  map[string]bool
		lowCred map[string]bool
	}
	byAccount := make(map[string]*acc)
	locations := make(map[string]geo.Location)

	for _, r := range rows {
		if kw != nil && !kw[r.Keyword] {
			continue
		}
		loc, ok := locations[r.CarmenLocation]
		if !ok {
			parsed, valid := geo.ParseLocation(r.CarmenLocation)
			if !valid {
				continue
			}
			loc = parsed
			locations[r.CarmenLocation] = loc
		}
		if loc.Country != opts.Country {
			continue
		}

		a := byAccount[r.AccountID]
		if a == nil {
			a = &acc{
				summary: AccountSummary{AccountID: r.AccountID, State: loc.State, County: loc.County},
				tweets:  make(map[string]bool),
				lowCred: make(map[string]bool),
			}
			byAccount[r.AccountID] = a
		}
		a.tweets[r.TweetID] = true
		if r.LowCred {
			a.lowCred[r.TweetID] = true
		}
	}

	out := make([]AccountSummary, 0, len(byAccount))
	for _, a := range byAccount {
		a.summary.NoTweets = len(a.tweets)
		a.summary.NoLowCredTweets = len(a.lowCred)
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// AccountTablePath names the summary table for a country code, marking
// keyword-filtered runs.
func AccountTablePath(dir, countryCode string, keywordFiltered bool) string {
	name := countryCode + "_accounts_table.csv"
	if keywordFiltered {
		name = countryCode + "_accounts_keywords_filtered_table.csv"
	}
	return filepath.Join(dir, name)
}

// WriteAccountTable writes the summaries to path, replacing any previous file.
func WriteAccountTable(path string, summaries []AccountSummary) error {
	err := writeCSV(path, AccountColumns, func(w *csv.Writer) error {
		for _, s := range summaries {
			if err := w.Write(s.record()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	AccountsSummarized.Add(float64(len(summaries)))
	slog.Info("Account table written", "path", path, "accounts", len(summaries))
	return nil
}

// ReadMergedTable reads a merged tweet table written by Merger.Merge.
// Columns are located by header name.
func ReadMergedTable(path string) ([]MergedRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open merged table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, c := range MergedColumns {
		if _, ok := col[c]; !ok {
			return nil, fmt.Errorf("merged table %s has no %q column", path, c)
		}
	}

	var rows []MergedRow
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(rec) < len(header) {
			slog.Warn("Skipping short merged row", "table", path, "row", rec)
			continue
		}
		lowCred, _ := strconv.ParseBool(rec[col["low_cred_flag"]])
		rows = append(rows, MergedRow{
			TweetID:        rec[col["tweet_id"]],
			AccountID:      rec[col["account_id"]],
			Location:       rec[col["location"]],
			CarmenLocation: rec[col["carmen_location"]],
			Keyword:        rec[col["keyword"]],
			URL:            rec[col["url"]],
			Expanded:       rec[col["expanded"]],
			Domain:         rec[col["domain"]],
			LowCred:        lowCred,
		})
	}
	return rows, nil
}
