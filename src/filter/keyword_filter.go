package filter

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"misinfo-twitter/src/tweets"
)

// KeywordSet holds the keyword phrases a tweet is searched for.
// A phrase may contain several words separated by spaces.
type KeywordSet struct {
	phrases map[string][]string // phrase as written -> lower-cased words
	mu      sync.RWMutex
}

// NewKeywordSet creates a new empty KeywordSet
func NewKeywordSet() *KeywordSet {
	return &KeywordSet{
		phrases: make(map[string][]string),
	}
}

// LoadKeywords reads a keyword file into a new KeywordSet.
func LoadKeywords(filename string) (*KeywordSet, error) {
	ks := NewKeywordSet()
	if err := ks.LoadFromFile(filename); err != nil {
		return nil, err
	}
	return ks, nil
}

// LoadFromFile loads keyword phrases from a file
// One phrase per line; empty lines and lines starting with # are skipped
func (ks *KeywordSet) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open keyword file %s: %w", filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ks.AddPhrase(line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading keyword file %s at line %d: %w", filename, lineNum, err)
	}

	return nil
}

// AddPhrase adds a single keyword phrase
func (ks *KeywordSet) AddPhrase(phrase string) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 {
		return
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.phrases[phrase] = words
}

// Len returns the number of phrases in the set
func (ks *KeywordSet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.phrases)
}

// Phrases returns the phrases in sorted order
func (ks *KeywordSet) Phrases() []string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]string, 0, len(ks.phrases))
	for p := range ks.phrases {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether phrase is one of the configured phrases
func (ks *KeywordSet) Contains(phrase string) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.phrases[phrase]
	return ok
}

// MatchText returns the phrases whose every word occurs somewhere in text.
// Matching is case-insensitive substring containment per word; word order and
// adjacency are not checked.
func (ks *KeywordSet) MatchText(text string) []string {
	if text == "" {
		return nil
	}
	lower := strings.ToLower(text)

	ks.mu.RLock()
	defer ks.mu.RUnlock()

	var found []string
	for phrase, words := range ks.phrases {
		present := true
		for _, w := range words {
			if !strings.Contains(lower, w) {
				present = false
				break
			}
		}
		if present {
			found = append(found, phrase)
		}
	}
	sort.Strings(found)
	return found
}

// Match searches a tweet for the configured phrases.
func (ks *KeywordSet) Match(tw *tweets.Tweet) []string {
	return ks.MatchText(SearchText(tw))
}

// SearchText assembles the text a tweet is searched in.
//
// The body is the retweeted status text when the tweet is a retweet, otherwise
// the tweet's own text; extended text wins over truncated text in both cases.
// A quoted status contributes its text after a space. When there is a body,
// the expanded URLs of the tweet, the retweeted status and the quoted status
// (and their extended forms) are appended.
func SearchText(tw *tweets.Tweet) string {
	if tw == nil {
		return ""
	}

	text := tw.OwnText()
	if rt := tw.RetweetedStatus; rt != nil && rt.OwnText() != "" {
		text = rt.FullText()
	} else if ext := tw.ExtendedText(); ext != "" {
		text = ext
	}

	if qs := tw.QuotedStatus; qs != nil && qs.OwnText() != "" {
		text += " " + qs.FullText()
	}

	if strings.TrimSpace(text) == "" {
		return ""
	}

	var b strings.Builder
	b.WriteString(text)
	sources := [][]tweets.URLEntity{
		tw.EntityURLs(),
		tw.ExtendedEntityURLs(),
		tw.RetweetedStatus.EntityURLs(),
		tw.RetweetedStatus.ExtendedEntityURLs(),
		tw.QuotedStatus.EntityURLs(),
		tw.QuotedStatus.ExtendedEntityURLs(),
	}
	for _, urls := range sources {
		b.WriteByte(' ')
		for i, u := range urls {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(u.ExpandedURL)
		}
	}
	return b.String()
}
