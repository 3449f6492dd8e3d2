package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
)

// DefaultShortLinkServices are the link shortening domains whose URLs are
// resolved by the expander.
var DefaultShortLinkServices = []string{
	"bit.ly", "dlvr.it", "liicr.nl", "tinyurl.com", "goo.gl",
	"ift.tt", "ow.ly", "fxn.ws", "buff.ly", "back.ly",
	"amzn.to", "nyti.ms", "nyp.st", "dailysign.al", "j.mp",
	"wapo.st", "reut.rs", "drudge.tw", "shar.es", "sumo.ly",
	"rebrand.ly", "covfefe.bz", "trib.al", "yhoo.it", "t.co",
	"shr.lc", "po.st", "dld.bz", "bitly.com", "crfrm.us",
	"flip.it", "mf.tt", "wp.me", "voat.co", "zurl.co",
	"fw.to", "mol.im", "read.bi", "disq.us", "tmsnrt.rs",
	"usat.ly", "aje.io", "sc.mp", "gop.cm", "crwd.fr",
	"zpr.io", "scq.io", "trib.in", "owl.li", "youtu.be",
}

// DomainFilter answers exact membership questions for domains
type DomainFilter interface {
	Contains(domain string) bool
}

// SetFilter implements DomainFilter using a simple hash set
type SetFilter struct {
	domains map[string]bool
}

// NewSetFilter builds a SetFilter from domains, lower-cased and trimmed.
func NewSetFilter(domains []string) *SetFilter {
	sf := &SetFilter{domains: make(map[string]bool, len(domains))}
	for _, d := range domains {
		if d = normalizeDomain(d); d != "" {
			sf.domains[d] = true
		}
	}
	return sf
}

func (sf *SetFilter) Contains(domain string) bool {
	return sf.domains[normalizeDomain(domain)]
}

// Len returns the number of domains in the set
func (sf *SetFilter) Len() int {
	return len(sf.domains)
}

// BloomSetFilter implements DomainFilter with a Bloom filter in front of an
// exact set. The Bloom filter rejects most lookups without touching the map;
// positives are confirmed against the set, so answers are exact.
type BloomSetFilter struct {
	filter *bloom.BloomFilter
	set    *SetFilter
}

// NewBloomSetFilter builds the filter for domains with a 1% false positive
// target.
func NewBloomSetFilter(domains []string) *BloomSetFilter {
	set := NewSetFilter(domains)
	n := uint(set.Len())
	if n == 0 {
		n = 1
	}
	bf := bloom.NewWithEstimates(n, 0.01)
	for d := range set.domains {
		bf.AddString(d)
	}
	return &BloomSetFilter{filter: bf, set: set}
}

func (bf *BloomSetFilter) Contains(domain string) bool {
	d := normalizeDomain(domain)
	if d == "" || !bf.filter.TestString(d) {
		return false
	}
	return bf.set.domains[d]
}

// Len returns the number of domains in the filter
func (bf *BloomSetFilter) Len() int {
	return bf.set.Len()
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimSuffix(d, ".")
}

// LoadLowCredList reads the low-credibility source list: a CSV file with a
// header row containing a "site" column.
func LoadLowCredList(path string) (*BloomSetFilter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open low-credibility list %s: %w", path, err)
	}
	defer f.Close()

	sites, err := readColumn(f, "site")
	if err != nil {
		return nil, fmt.Errorf("low-credibility list %s: %w", path, err)
	}
	return NewBloomSetFilter(sites), nil
}

// readColumn returns the values of the named column of a CSV stream.
func readColumn(r io.Reader, column string) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("no %q column in header %v", column, header)
	}

	var values []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		if idx < len(row) && strings.TrimSpace(row[idx]) != "" {
			values = append(values, row[idx])
		}
	}
	return values, nil
}
