package extract

import (
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func readHTML(path string) (string, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", nil, err
	}
	doc.Find("script, style, noscript, template").Remove()

	meta := map[string]string{
		"title": strings.TrimSpace(doc.Find("head > title").First().Text()),
	}
	if author, ok := doc.Find(`meta[name="author"]`).First().Attr("content"); ok {
		meta["author"] = author
	}

	var parts []string
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, pre, td, th, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are emitted by their innermost element.
		if s.Find("p, li, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.Join(strings.Fields(s.Text()), " "); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		parts = append(parts, strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	}
	return strings.Join(parts, "\n"), meta, nil
}
