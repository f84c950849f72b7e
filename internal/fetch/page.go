package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxSummaryHeadings   = 10
	maxSummaryParagraphs = 15
	maxSummaryText       = 5000
)

// Heading is one h1-h6 element
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor resolved against the page URL
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Page is the structured content of a scraped web page
type Page struct {
	URL             string    `json:"url"`
	StatusCode      int       `json:"status_code"`
	Title           string    `json:"title"`
	MetaDescription string    `json:"meta_description"`
	Headings        []Heading `json:"headings"`
	Paragraphs      []string  `json:"paragraphs"`
	Links           []Link    `json:"links"`
	TextContent     string    `json:"text_content"`
}

// Scrape fetches urlStr and parses it into a Page
func Scrape(ctx context.Context, urlStr string, opts *Options) (*Page, error) {
	resp, err := Get(ctx, urlStr, opts)
	if err != nil {
		return nil, err
	}
	page, err := Parse(resp.Body, urlStr)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to parse page", Cause: err}
	}
	page.StatusCode = resp.StatusCode
	if opts != nil {
		page = renderFallback(ctx, page, opts.Renderer)
	}
	return page, nil
}

// Parse extracts title, meta description, headings, paragraphs, links and clean text from html.
// Relative links are resolved against baseURL.
func Parse(html, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	base, _ := url.Parse(baseURL)

	page := &Page{
		URL:        baseURL,
		Title:      strings.TrimSpace(doc.Find("title").First().Text()),
		Headings:   []Heading{},
		Paragraphs: []string{},
		Links:      []Link{},
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		page.MetaDescription = strings.TrimSpace(desc)
	}

	for level := 1; level <= 6; level++ {
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(_ int, s *goquery.Selection) {
			if text := collapseSpaces(s.Text()); text != "" {
				page.Headings = append(page.Headings, Heading{Level: level, Text: text})
			}
		})
	}

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if text := collapseSpaces(s.Text()); text != "" {
			page.Paragraphs = append(page.Paragraphs, text)
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				href = base.ResolveReference(ref).String()
			}
		}
		page.Links = append(page.Links, Link{Text: collapseSpaces(s.Text()), URL: href})
	})

	page.TextContent = mainText(doc)
	return page, nil
}

// SummaryInput joins the parts of a page worth sending to the summary prompt.
// Structured content wins; the clean text is only used when nothing structured was found.
func SummaryInput(p *Page) string {
	if p == nil {
		return ""
	}
	var parts []string
	if p.Title != "" {
		parts = append(parts, "Title: "+p.Title)
	}
	if p.MetaDescription != "" {
		parts = append(parts, "Description: "+p.MetaDescription)
	}
	if len(p.Headings) > 0 {
		lines := make([]string, 0, maxSummaryHeadings)
		for i, h := range p.Headings {
			if i == maxSummaryHeadings {
				break
			}
			lines = append(lines, fmt.Sprintf("H%d: %s", h.Level, h.Text))
		}
		parts = append(parts, "Headings:\n"+strings.Join(lines, "\n"))
	}
	if len(p.Paragraphs) > 0 {
		paragraphs := p.Paragraphs
		if len(paragraphs) > maxSummaryParagraphs {
			paragraphs = paragraphs[:maxSummaryParagraphs]
		}
		parts = append(parts, "Content:\n"+strings.Join(paragraphs, "\n"))
	}
	if len(parts) == 0 && p.TextContent != "" {
		text := p.TextContent
		if len(text) > maxSummaryText {
			text = text[:maxSummaryText]
		}
		parts = append(parts, "Text Content:\n"+text)
	}
	return strings.Join(parts, "\n\n")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
