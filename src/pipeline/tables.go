package pipeline

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"misinfo-twitter/src/filter"
	"misinfo-twitter/src/geo"
	"misinfo-twitter/src/tweets"
)

// ErrAlreadyProcessed is returned by ProcessFile when every table for the
// input file already exists.
var ErrAlreadyProcessed = errors.New("input file already processed")

// Relation names, in the order tables are written. Each relation table has
// the columns tweet_id,<relation>.
const (
	RelAccount        = "account"
	RelLocation       = "location"
	RelCarmenLocation = "carmen_location"
	RelURL            = "url"
	RelKeyword        = "keyword"
)

// Relations lists every relation table produced per input file
var Relations = []string{RelAccount, RelLocation, RelCarmenLocation, RelURL, RelKeyword}

// DayLayout is the date format embedded in input file names
const DayLayout = "2006-01-02"

var dayRe = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)

// InputFile is one tweet archive with the day it covers
type InputFile struct {
	Path string
	Day  string
}

// TablePath returns the path of one relation table for one day.
func TablePath(tablesDir, day, relation string) string {
	return filepath.Join(tablesDir, day+"_tweet_"+relation+"_table.csv")
}

// ListInputFiles returns the *.json and *.json.gz files in dir whose embedded
// date lies within [start, end], sorted by name. A zero start or end leaves
// that side of the window open. Files without a date are skipped.
func ListInputFiles(dir string, start, end time.Time) ([]InputFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list tweet directory %s: %w", dir, err)
	}

	var files []InputFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.gz")) {
			continue
		}
		m := dayRe.FindString(name)
		if m == "" {
			slog.Warn("Skipping input file without a date in its name", "file", name)
			continue
		}
		day, err := time.Parse(DayLayout, m)
		if err != nil {
			slog.Warn("Skipping input file with an invalid date", "file", name, "error", err)
			continue
		}
		if !start.IsZero() && day.Before(start) {
			continue
		}
		if !end.IsZero() && day.After(end) {
			continue
		}
		files = append(files, InputFile{Path: filepath.Join(dir, name), Day: m})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	// Tables are per day, so only the first archive of a day gets built
	first := make(map[string]string, len(files))
	for _, f := range files {
		if prev, ok := first[f.Day]; ok {
			slog.Warn("Several input files share a day, only the first is built",
				"day", f.Day, "built", prev, "ignored", f.Path)
			continue
		}
		first[f.Day] = f.Path
	}
	return files, nil
}

// FileStats summarizes one processed input file
type FileStats struct {
	File        string
	Day         string
	Records     int
	Skipped     int
	URLRows     int
	KeywordRows int
}

// TableBuilder turns tweet archives into per-relation tables.
type TableBuilder struct {
	keywords  *filter.KeywordSet
	resolver  geo.Resolver
	tablesDir string
}

// NewTableBuilder creates a builder writing into tablesDir.
func NewTableBuilder(keywords *filter.KeywordSet, resolver geo.Resolver, tablesDir string) *TableBuilder {
	return &TableBuilder{
		keywords:  keywords,
		resolver:  resolver,
		tablesDir: tablesDir,
	}
}

// Processed reports whether every relation table for day exists.
func (b *TableBuilder) Processed(day string) bool {
	for _, rel := range Relations {
		if _, err := os.Stat(TablePath(b.tablesDir, day, rel)); err != nil {
			return false
		}
	}
	return true
}

// BuildSummary is the outcome of BuildAll
type BuildSummary struct {
	Files       []FileStats
	AlreadyDone int
	Failed      int
}

// Records returns the total records written across processed files
func (s BuildSummary) Records() (records, skipped, rows int) {
	for _, f := range s.Files {
		records += f.Records
		skipped += f.Skipped
		rows += f.URLRows + f.KeywordRows
	}
	return records, skipped, rows
}

// BuildAll processes each file in turn. A file that fails is logged and the
// run moves on to the next one.
func (b *TableBuilder) BuildAll(files []InputFile) BuildSummary {
	var sum BuildSummary
	for _, in := range files {
		st, err := b.ProcessFile(in)
		switch {
		case errors.Is(err, ErrAlreadyProcessed):
			slog.Info("Already processed, skipping", "file", in.Path, "day", in.Day)
			FilesProcessed.WithLabelValues("skipped").Inc()
			sum.AlreadyDone++
		case err != nil:
			slog.Error("Failed to process input file", "file", in.Path, "error", err)
			FilesProcessed.WithLabelValues("failed").Inc()
			sum.Failed++
		default:
			FilesProcessed.WithLabelValues("processed").Inc()
			sum.Files = append(sum.Files, st)
		}
	}
	return sum
}

// ProcessFile streams one archive into its five relation tables. Tables are
// written to temporary files and moved into place once the whole archive has
// been read, so an interrupted run never leaves a complete-looking day behind.
func (b *TableBuilder) ProcessFile(in InputFile) (FileStats, error) {
	st := FileStats{File: in.Path, Day: in.Day}
	if b.Processed(in.Day) {
		return st, ErrAlreadyProcessed
	}
	if err := os.MkdirAll(b.tablesDir, 0755); err != nil {
		return st, fmt.Errorf("failed to create tables directory: %w", err)
	}

	rc, err := openArchive(in.Path)
	if err != nil {
		return st, err
	}
	defer rc.Close()

	tables, err := createTableSet(b.tablesDir, in.Day)
	if err != nil {
		return st, err
	}

	start := time.Now()
	slog.Info("Processing input file", "file", in.Path, "day", in.Day)

	reader := bufio.NewReaderSize(rc, 1024*1024)
	lineNum := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			lineNum++
			if err := b.processRecord(line, tables, &st); err != nil {
				st.Skipped++
				RecordsProcessed.WithLabelValues("skipped").Inc()
				slog.Warn("Skipping tweet record", "file", in.Path, "line", lineNum, "error", err)
			} else {
				st.Records++
				RecordsProcessed.WithLabelValues("ok").Inc()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tables.abort()
			return st, fmt.Errorf("failed to read %s: %w", in.Path, readErr)
		}
	}

	if err := tables.commit(); err != nil {
		return st, err
	}
	slog.Info("Finished input file", "file", in.Path, "records", st.Records, "skipped", st.Skipped,
		"url_rows", st.URLRows, "keyword_rows", st.KeywordRows, "duration", time.Since(start))
	return st, nil
}

// processRecord extracts every relation for one tweet and writes the rows.
// Nothing is written unless the whole record could be processed.
func (b *TableBuilder) processRecord(line []byte, tables *tableSet, st *FileStats) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing record: %v", r)
		}
	}()

	tw, err := tweets.Decode(line)
	if err != nil {
		return err
	}
	if tw.User == nil || tw.User.IDStr == "" {
		return fmt.Errorf("tweet %s has no user", tw.IDStr)
	}

	var urls []string
	for _, u := range ExtractURLs(tw) {
		if TopDomain(u) == PlatformDomain {
			continue
		}
		urls = append(urls, u)
	}

	carmen := geo.NoMatch
	if b.resolver != nil {
		if loc, ok := b.resolver.Resolve(tw.User); ok {
			carmen = loc.String()
		}
	}

	var keywords []string
	if b.keywords != nil {
		keywords = b.keywords.Match(tw)
	}

	id := tw.IDStr
	if err := tables.write(RelAccount, id, tw.User.IDStr); err != nil {
		return err
	}
	if err := tables.write(RelLocation, id, tw.AccountLocation()); err != nil {
		return err
	}
	if err := tables.write(RelCarmenLocation, id, carmen); err != nil {
		return err
	}
	for _, u := range urls {
		if err := tables.write(RelURL, id, u); err != nil {
			return err
		}
	}
	for _, k := range keywords {
		if err := tables.write(RelKeyword, id, k); err != nil {
			return err
		}
	}
	st.URLRows += len(urls)
	st.KeywordRows += len(keywords)
	return nil
}

func openArchive(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip: %w", err)
	}
	return &gzipFile{Reader: gz, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.file.Close()
}

// tableSet holds the open relation tables of one day
type tableSet struct {
	files   map[string]*os.File
	writers map[string]*csv.Writer
	final   map[string]string
}

func createTableSet(dir, day string) (*tableSet, error) {
	ts := &tableSet{
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
		final:   make(map[string]string),
	}
	for _, rel := range Relations {
		path := TablePath(dir, day, rel)
		f, err := os.Create(path + ".tmp")
		if err != nil {
			ts.abort()
			return nil, fmt.Errorf("failed to create table %s: %w", path, err)
		}
		w := csv.NewWriter(f)
		ts.files[rel] = f
		ts.writers[rel] = w
		ts.final[rel] = path
		if err := w.Write([]string{"tweet_id", rel}); err != nil {
			ts.abort()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	return ts, nil
}

func (ts *tableSet) write(rel, tweetID, value string) error {
	if err := ts.writers[rel].Write([]string{tweetID, value}); err != nil {
		return fmt.Errorf("failed to write %s row: %w", rel, err)
	}
	RelationRows.WithLabelValues(rel).Inc()
	return nil
}

// commit flushes and renames every table. The account table is moved last.
func (ts *tableSet) commit() error {
	for _, rel := range Relations {
		w := ts.writers[rel]
		w.Flush()
		if err := w.Error(); err != nil {
			ts.abort()
			return fmt.Errorf("failed to flush %s table: %w", rel, err)
		}
		if err := ts.files[rel].Close(); err != nil {
			ts.abort()
			return fmt.Errorf("failed to close %s table: %w", rel, err)
		}
	}
	for i := len(Relations) - 1; i >= 0; i-- {
		rel := Relations[i]
		if err := os.Rename(ts.final[rel]+".tmp", ts.final[rel]); err != nil {
			return fmt.Errorf("failed to move %s table into place: %w", rel, err)
		}
	}
	return nil
}

func (ts *tableSet) abort() {
	for rel, f := range ts.files {
		f.Close()
		os.Remove(ts.final[rel] + ".tmp")
	}
}
