package adapter

import "context"

// SearchResult is what a web search returns for one query.
type SearchResult struct {
	Links        []string // organic result urls, best first
	Snippets     []string
	DirectAnswer string
}

type SearchEngine interface {
	Search(ctx context.Context, query string) (*SearchResult, error)
}

// PageFetcher downloads a page and returns its visible text, one block per line.
type PageFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}
