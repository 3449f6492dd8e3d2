package main

import (
	"reflect"
	"testing"

	"misinfo-twitter/src/pipeline"
)

func TestSummarizeCache(t *testing.T) {
	expanded := map[string]string{
		"http://bit.ly/a":  "https://www.nytimes.com/a/",
		"http://bit.ly/b":  "https://nytimes.com/b/",
		"http://bit.ly/c":  "https://cdc.gov/c/",
		"http://bit.ly/d":  "http://bit.ly/d",
		"http://ow.ly/e":   "https://tinyurl.com/xyz/",
		"http://goo.gl/f":  "https://example.com/",
		"http://trib.al/g": "https://example.com/g/",
	}
	s := summarizeCache(expanded, pipeline.NewSetFilter(pipeline.DefaultShortLinkServices), 2)

	if s.Entries != 7 || s.Unchanged != 1 {
		t.Errorf("Unexpected counts %+v", s)
	}
	expectedTop := []domainCount{{"example.com", 2}, {"nytimes.com", 2}}
	if !reflect.DeepEqual(s.TopDomains, expectedTop) {
		t.Errorf("Expected top %v, got %v", expectedTop, s.TopDomains)
	}
	if !reflect.DeepEqual(s.Chained, []string{"http://ow.ly/e"}) {
		t.Errorf("Expected ow.ly chain to be flagged, got %v", s.Chained)
	}
}
