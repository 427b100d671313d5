package engine

import (
	"fmt"
	"net/url"
	"strings"
)

// SearchResult is one hit from the simulated web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

var searchSites = []struct {
	host, label string
}{
	{"en.wikipedia.org/wiki", "Wikipedia"},
	{"stackoverflow.com/search?q=", "Stack Overflow"},
	{"news.example.com/search?q=", "Tech News"},
}

func searchResults(query string) []SearchResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	out := make([]SearchResult, 0, len(searchSites))
	for _, s := range searchSites {
		sep := "/"
		if strings.HasSuffix(s.host, "=") {
			sep = ""
		}
		out = append(out, SearchResult{
			Title:   fmt.Sprintf("%s - %s", q, s.label),
			URL:     "https://" + s.host + sep + url.QueryEscape(q),
			Snippet: fmt.Sprintf("Results for %q on %s.", q, s.label),
		})
	}
	return out
}
