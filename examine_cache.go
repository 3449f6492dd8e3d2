package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"misinfo-twitter/src/pipeline"
)

// cacheSummary describes the contents of a short-link expansion cache
type cacheSummary struct {
	Entries    int
	Unchanged  int
	Chained    []string
	TopDomains []domainCount
}

type domainCount struct {
	Domain string
	Count  int
}

// summarizeCache counts destinations per domain and flags expansions that
// still point at a short-link service.
func summarizeCache(expanded map[string]string, shortLinks pipeline.DomainFilter, top int) cacheSummary {
	s := cacheSummary{Entries: len(expanded)}
	counts := make(map[string]int)
	for short, dest := range expanded {
		if dest == short {
			s.Unchanged++
			continue
		}
		domain := pipeline.TopDomain(dest)
		counts[domain]++
		if shortLinks.Contains(domain) {
			s.Chained = append(s.Chained, short)
		}
	}
	sort.Strings(s.Chained)

	for d, c := range counts {
		s.TopDomains = append(s.TopDomains, domainCount{Domain: d, Count: c})
	}
	sort.Slice(s.TopDomains, func(i, j int) bool {
		if s.TopDomains[i].Count != s.TopDomains[j].Count {
			return s.TopDomains[i].Count > s.TopDomains[j].Count
		}
		return s.TopDomains[i].Domain < s.TopDomains[j].Domain
	})
	if len(s.TopDomains) > top {
		s.TopDomains = s.TopDomains[:top]
	}
	return s
}

func main() {
	cachePath := flag.String("cache", "data/intermediate/urls_expanded.gob", "Path to the url expansion cache")
	top := flag.Int("top", 20, "Number of destination domains to list")
	flag.Parse()

	expanded, err := pipeline.NewFileURLStore(*cachePath).Load(context.Background())
	if err != nil {
		fmt.Printf("Error loading cache: %v\n", err)
		os.Exit(1)
	}

	s := summarizeCache(expanded, pipeline.NewSetFilter(pipeline.DefaultShortLinkServices), *top)
	fmt.Printf("Examining url cache: %s\n", *cachePath)
	fmt.Printf("Found %d cached short urls\n", s.Entries)
	fmt.Printf("%d did not expand\n", s.Unchanged)

	fmt.Printf("\nTop destination domains:\n")
	for _, dc := range s.TopDomains {
		fmt.Printf("%8d  %s\n", dc.Count, dc.Domain)
	}

	fmt.Printf("\nChecking for expansions that stopped at another shortener...\n")
	if len(s.Chained) == 0 {
		fmt.Printf("No chained short links found.\n")
		return
	}
	for _, short := range s.Chained {
		fmt.Printf("Potential issue: %s -> %s\n", short, expanded[short])
	}
	fmt.Printf("Found %d chained short links.\n", len(s.Chained))
}
