package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"misinfo-twitter/src/geo"
)

func TestAggregateFraction(t *testing.T) {
	var rows []MergedRow
	for i := 0; i < 10; i++ {
		rows = append(rows, MergedRow{
			TweetID:        fmt.Sprintf("t%d", i),
			AccountID:      "a",
			CarmenLocation: indiana.String(),
			LowCred:        i < 3,
		})
	}
	// A low-cred tweet with two URLs appears twice but counts once
	rows = append(rows, MergedRow{TweetID: "t0", AccountID: "a", CarmenLocation: indiana.String(), LowCred: true})

	got := Aggregate(rows, AggregateOptions{Country: "United States"})
	if len(got) != 1 {
		t.Fatalf("Expected 1 account, got %+v", got)
	}
	a := got[0]
	if a.NoTweets != 10 || a.NoLowCredTweets != 3 || a.State != "Indiana" || a.County != "Monroe County" {
		t.Errorf("Unexpected summary %+v", a)
	}
	if a.FractionMisinfo() != 30 {
		t.Errorf("Expected fraction 30, got %v", a.FractionMisinfo())
	}
	if rec := a.record(); rec[5] != "30.0" {
		t.Errorf("Expected fraction rendered as 30.0, got %s", rec[5])
	}
}

func TestAggregateCountryFilter(t *testing.T) {
	uk := geo.Location{ID: 2206, Country: "United Kingdom", State: "England", Known: true}
	rows := []MergedRow{
		{TweetID: "1", AccountID: "us", CarmenLocation: indiana.String()},
		{TweetID: "2", AccountID: "uk", CarmenLocation: uk.String()},
		{TweetID: "3", AccountID: "none", CarmenLocation: geo.NoMatch},
	}
	got := Aggregate(rows, AggregateOptions{Country: "United States"})
	if len(got) != 1 || got[0].AccountID != "us" {
		t.Errorf("Expected only the US account, got %+v", got)
	}
}

func TestAggregateKeywordFilterBeforeGrouping(t *testing.T) {
	rows := []MergedRow{
		{TweetID: "1", AccountID: "a", CarmenLocation: indiana.String(), Keyword: "vaccine", LowCred: true},
		{TweetID: "2", AccountID: "a", CarmenLocation: indiana.String(), Keyword: "lockdown"},
		{TweetID: "3", AccountID: "a", CarmenLocation: indiana.String(), Keyword: "vaccine"},
		{TweetID: "4", AccountID: "b", CarmenLocation: indiana.String(), Keyword: ""},
	}
	got := Aggregate(rows, AggregateOptions{Country: "United States", Keywords: []string{"vaccine"}})
	expected := []AccountSummary{{AccountID: "a", State: "Indiana", County: "Monroe County", NoTweets: 2, NoLowCredTweets: 1}}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %+v, got %+v", expected, got)
	}
	if f := formatFloat(got[0].FractionMisinfo()); f != "50.0" {
		t.Errorf("Expected 50.0, got %s", f)
	}

	all := Aggregate(rows, AggregateOptions{Country: "United States"})
	if len(all) != 2 || all[0].NoTweets != 3 {
		t.Errorf("Unfiltered aggregation wrong: %+v", all)
	}
}

func TestFormatFloat(t *testing.T) {
	testCases := map[float64]string{
		0:           "0.0",
		30:          "30.0",
		100:         "100.0",
		12.5:        "12.5",
		100.0 / 3.0: "33.333333333333336",
	}
	for in, expected := range testCases {
		if got := formatFloat(in); got != expected {
			t.Errorf("formatFloat(%v) = %s, expected %s", in, got, expected)
		}
	}
}

func TestWriteAccountTable(t *testing.T) {
	dir := t.TempDir()
	path := AccountTablePath(dir, "US", false)
	if filepath.Base(path) != "US_accounts_table.csv" {
		t.Errorf("Unexpected table name %s", path)
	}
	if filepath.Base(AccountTablePath(dir, "US", true)) != "US_accounts_keywords_filtered_table.csv" {
		t.Error("Unexpected keyword-filtered table name")
	}

	summaries := []AccountSummary{{AccountID: "a", State: "Indiana", County: "Monroe County", NoTweets: 10, NoLowCredTweets: 3}}
	if err := WriteAccountTable(path, summaries); err != nil {
		t.Fatalf("WriteAccountTable failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	expected := strings.Join(AccountColumns, ",") + "\na,Indiana,Monroe County,10,3,30.0\n"
	if string(data) != expected {
		t.Errorf("Expected:\n%s\ngot:\n%s", expected, data)
	}
}

func TestReadMergedTableMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merged.csv")
	os.WriteFile(path, []byte("tweet_id,account_id\n1,a\n"), 0644)
	if _, err := ReadMergedTable(path); err == nil {
		t.Error("Expected error for table without merged columns")
	}
}
