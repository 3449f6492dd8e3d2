package main

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"misinfo-twitter/src/filter"
	"misinfo-twitter/src/tweets"
)

var CSV_COLS = []string{"tweet_id", "keyword"}

const archivePrefix = "streaming_data--"

func main() {
	inputDir := flag.String("inputdir", "", "Path to input directory containing gzipped tweet archives")
	outputDir := flag.String("outputdir", "", "Path to output directory for keyword tables")
	keywordsFile := flag.String("keywords", "keywords.txt", "Path to keyword phrase file")
	flag.Parse()

	if *inputDir == "" || *outputDir == "" {
		log.Fatalf("Usage: parser -inputdir input_dir -outputdir output_dir [-keywords keywords.txt]")
	}

	keywords, err := filter.LoadKeywords(*keywordsFile)
	if err != nil {
		log.Fatalf("Failed to load keywords: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(*inputDir, "*.gz"))
	if err != nil {
		log.Fatalf("Failed to list .gz files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No .gz files found in %s", *inputDir)
	}

	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	total := 0
	for _, gzFile := range files {
		outFile := filepath.Join(*outputDir, outputName(gzFile))
		if _, err := os.Stat(outFile); err == nil {
			log.Printf("Already processed %s", outFile)
			continue
		}
		log.Printf("Processing %s -> %s", gzFile, outFile)
		n, err := processArchive(gzFile, outFile, keywords)
		if err != nil {
			log.Printf("Failed to process %s: %v", gzFile, err)
			continue
		}
		total += n
		log.Printf("Processed %d tweets (%d total)", n, total)
	}
}

// outputName maps streaming_data--<day>.json.gz to <day>_tweet_keywords_full_table.csv
func outputName(archive string) string {
	day := strings.TrimPrefix(filepath.Base(archive), archivePrefix)
	day = strings.TrimSuffix(strings.TrimSuffix(day, ".gz"), ".json")
	return day + "_tweet_keywords_full_table.csv"
}

// processArchive writes one tweet_id,keyword row per match in the archive and
// returns the number of tweets read. The table only appears once complete.
func processArchive(inputPath, outputPath string, keywords *filter.KeywordSet) (int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to open gzip: %w", err)
	}
	defer gz.Close()

	tmp := outputPath + ".tmp"
	outf, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create output: %w", err)
	}
	writer := csv.NewWriter(outf)

	n, err := writeMatches(gz, writer, keywords)
	writer.Flush()
	if err == nil {
		err = writer.Error()
	}
	if cerr := outf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}
	return n, os.Rename(tmp, outputPath)
}

func writeMatches(r io.Reader, writer *csv.Writer, keywords *filter.KeywordSet) (int, error) {
	if err := writer.Write(CSV_COLS); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	reader := bufio.NewReaderSize(r, 1024*1024)
	counter := 0
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			tw, err := tweets.Decode(line)
			if err != nil {
				log.Printf("Skipping record: %v", err)
			} else {
				counter++
				for _, k := range keywords.Match(tw) {
					if err := writer.Write([]string{tw.IDStr, k}); err != nil {
						return counter, fmt.Errorf("failed to write row: %w", err)
					}
				}
			}
		}
		if readErr == io.EOF {
			return counter, nil
		}
		if readErr != nil {
			return counter, fmt.Errorf("failed to read archive: %w", readErr)
		}
	}
}
