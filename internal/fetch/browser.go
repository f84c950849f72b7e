package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// MinContentLength is the shortest extracted text accepted from a plain HTTP fetch.
// Shorter pages are likely JavaScript rendered and are retried in a browser when one is configured.
const MinContentLength = 500

// DefaultBrowserTimeout bounds one headless browser render
const DefaultBrowserTimeout = 30 * time.Second

// Renderer returns the HTML of a page after client side rendering
type Renderer func(ctx context.Context, url string) (string, error)

// ShouldUseBrowser returns true if the extracted text is too short to summarize
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// BrowserRenderer returns a Renderer backed by headless Chrome.
// Requires Chrome/Chromium to be installed on the system.
func BrowserRenderer(timeout time.Duration) Renderer {
	if timeout <= 0 {
		timeout = DefaultBrowserTimeout
	}
	return func(ctx context.Context, url string) (string, error) {
		return WithBrowser(ctx, url, timeout)
	}
}

// WithBrowser renders url in a headless browser and returns the rendered HTML
func WithBrowser(ctx context.Context, url string, timeout time.Duration) (string, error) {
	log.Debug().Str("url", url).Msg("rendering page in headless browser")

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(DefaultUserAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		// give client side frameworks time to mount
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", &Error{URL: url, Message: "browser rendering failed", Cause: err}
	}

	log.Debug().Str("url", url).Int("bytes", len(html)).Msg("browser render complete")
	return html, nil
}

// renderFallback re-parses page from a browser render when the static text was too thin.
// The static page is kept when rendering fails or yields no more text.
func renderFallback(ctx context.Context, page *Page, render Renderer) *Page {
	if render == nil || !ShouldUseBrowser(page.TextContent) {
		return page
	}
	html, err := render(ctx, page.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", page.URL).Msg("browser fallback failed, using static page")
		return page
	}
	rendered, err := Parse(html, page.URL)
	if err != nil || len(rendered.TextContent) <= len(page.TextContent) {
		return page
	}
	rendered.StatusCode = page.StatusCode
	return rendered
}
