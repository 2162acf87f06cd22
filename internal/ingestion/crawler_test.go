package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Payments FAQ</title>
  <style>body { color: red }</style>
  <script>console.log("tracking")</script>
</head>
<body>
  <div class="header">Site Banner</div>
  <nav><a href="/">Home</a></nav>
  <div id="sidebar">Related links</div>
  <h1>Frequently Asked Questions</h1>
  <p>How do I reset my   password?</p>
  <p>Visit the account page and choose reset.</p>
  <footer>Copyright 2026</footer>
</body>
</html>`

func Test_Crawler_ExtractsTitleAndVisibleText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := NewCrawler(5*time.Second, "")
	page, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}

	if page.Title != "Payments FAQ" {
		t.Errorf("Title = %q", page.Title)
	}
	for _, want := range []string{"Frequently Asked Questions", "reset my password", "account page"} {
		if !strings.Contains(page.Content, want) {
			t.Errorf("content missing %q: %q", want, page.Content)
		}
	}
	for _, excluded := range []string{"Site Banner", "Home", "Related links", "Copyright", "console.log", "color: red"} {
		if strings.Contains(page.Content, excluded) {
			t.Errorf("content contains chrome text %q: %q", excluded, page.Content)
		}
	}
}

func Test_Crawler_TitleFallsBackToURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>No title here</p></body></html>"))
	}))
	defer srv.Close()

	c := NewCrawler(5*time.Second, "")
	page, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if page.Title != srv.URL {
		t.Errorf("Title = %q, want the URL", page.Title)
	}
}

func Test_Crawler_NonOKStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewCrawler(5*time.Second, "")
	if _, err := c.Crawl(context.Background(), srv.URL+"/missing"); err == nil {
		t.Fatal("Crawl succeeded on 404")
	}
}

func Test_ExtractText_CollapsesWhitespace(t *testing.T) {
	t.Parallel()

	_, content := extractText("<p>spaced    out\n\ttext</p>")
	if content != "spaced out text" {
		t.Errorf("content = %q", content)
	}
}
