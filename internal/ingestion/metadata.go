package ingestion

import (
	"net/url"
	"strings"
)

// docTypeSegments maps URL path segments to the document type label stored in
// chunk metadata.
var docTypeSegments = map[string]string{
	"faq":       "faq",
	"faqs":      "faq",
	"blog":      "blog",
	"news":      "blog",
	"articles":  "blog",
	"docs":      "docs",
	"doc":       "docs",
	"guides":    "docs",
	"reference": "docs",
	"help":      "docs",
	"support":   "docs",
}

// InferDocType inspects a page URL and classifies the document it points at.
// Unrecognised URLs default to "web".
func InferDocType(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "web"
	}
	for _, seg := range strings.Split(strings.ToLower(parsed.Path), "/") {
		if t, ok := docTypeSegments[seg]; ok {
			return t
		}
	}
	return "web"
}
