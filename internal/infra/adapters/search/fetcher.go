package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"audio-assistant/internal/domain/ports/adapter"
)

var _ adapter.PageFetcher = (*HTMLFetcher)(nil)

const maxPageBytes = 4 << 20

// HTMLFetcher downloads a page and renders its visible text, roughly the way
// a browser's innerText does: one line per block element.
type HTMLFetcher struct {
	client    *http.Client
	userAgent string
}

func NewHTMLFetcher(timeout time.Duration) *HTMLFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTMLFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: "Mozilla/5.0 (compatible; audio-assistant/1.0)",
	}
}

func (f *HTMLFetcher) FetchText(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "html") && !strings.HasPrefix(ct, "text/") {
		return "", fmt.Errorf("fetch %s: unsupported content type %q", url, ct)
	}
	return VisibleText(io.LimitReader(resp.Body, maxPageBytes))
}

// VisibleText extracts the rendered text of an HTML document. Script, style
// and other non-rendered subtrees are skipped.
func VisibleText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var (
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
			return
		case html.ElementNode:
			if hidden(n.DataAtom) {
				return
			}
			if block(n.DataAtom) {
				flush()
				defer flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	flush()
	return strings.Join(lines, "\n"), nil
}

func hidden(a atom.Atom) bool {
	switch a {
	case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Svg, atom.Iframe, atom.Object:
		return true
	}
	return false
}

func block(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Td, atom.Th, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section, atom.Article,
		atom.Header, atom.Footer, atom.Nav, atom.Main, atom.Aside, atom.Blockquote, atom.Pre,
		atom.Dd, atom.Dt, atom.Dl, atom.Figcaption, atom.Form, atom.Hr, atom.Body:
		return true
	}
	return false
}
