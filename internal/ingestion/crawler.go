package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Page is the extracted content of a single crawled web page.
type Page struct {
	// URL is the page's address as fetched.
	URL string
	// Title is the text of the page's <title> element, or the URL when the
	// page has none.
	Title string
	// Content is the visible text of the page with chrome elements removed.
	Content string
}

// Crawler fetches single web pages and extracts their visible text.
// It is safe for concurrent use.
type Crawler struct {
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
	// userAgent is sent with every fetch request.
	userAgent string
}

// NewCrawler constructs a Crawler. timeout and userAgent fall back to 10s and
// a default identifier when zero-valued.
func NewCrawler(timeout time.Duration, userAgent string) *Crawler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "docqa-go/1.0 (document ingestion)"
	}
	return &Crawler{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Crawl fetches the page at url and extracts its title and visible text.
func (c *Crawler) Crawl(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("crawler: creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crawler: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crawler: unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("crawler: reading body: %w", err)
	}

	title, content := extractText(string(body))
	if title == "" {
		title = url
	}
	return &Page{URL: url, Title: title, Content: content}, nil
}

// chromeClasses names the class and id values whose subtrees are excluded
// from content extraction.
var chromeClasses = map[string]bool{
	"header":  true,
	"footer":  true,
	"nav":     true,
	"sidebar": true,
}

// skippedElements names elements whose subtrees never contribute visible text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
}

// extractText parses an HTML document and returns its title and visible body
// text. Script, style, and navigation chrome subtrees are dropped; remaining
// text nodes are joined with single spaces.
func extractText(doc string) (title, content string) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", ""
	}

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" {
				if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skippedElements[n.Data] {
				return
			}
			if n.Data == "head" {
				// Still descend into head for the title element.
				for c := n.FirstChild; c != nil; c = c.NextSibling {
					if c.Type == html.ElementNode && c.Data == "title" {
						walk(c)
					}
				}
				return
			}
			if isChromeNode(n) {
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, collapseWhitespace(text))
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return title, strings.Join(parts, " ")
}

// isChromeNode reports whether an element carries a class or id marking it as
// page chrome rather than content.
func isChromeNode(n *html.Node) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" && attr.Key != "id" {
			continue
		}
		for _, v := range strings.Fields(attr.Val) {
			if chromeClasses[strings.ToLower(v)] {
				return true
			}
		}
	}
	return false
}

// collapseWhitespace rewrites runs of whitespace as single spaces.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
