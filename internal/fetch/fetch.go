// Package fetch retrieves company web pages and reduces them to the text the
// company summary prompt needs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultTimeout bounds a single page request.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent identifies the scraper to company sites.
	DefaultUserAgent = "Mozilla/5.0 (compatible; ResumeBuilder/1.0)"
	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes = 5 << 20
)

// noiseSelector matches page chrome that never describes the company.
const noiseSelector = "nav, footer, header, script, style, noscript, form, iframe, .ad, .ads, .sidebar, .cookie-banner, .popup"

// contentSelectors are tried in order to find the part of a company page worth reading.
var contentSelectors = []string{
	"main",
	"article",
	".about-content",
	".values-content",
	".culture-content",
	".content",
	"#content",
}

// ErrBlockedAddress is returned when a page resolves to a loopback, private,
// link-local or otherwise non-public address.
var ErrBlockedAddress = errors.New("address is not publicly routable")

// Response is a raw page body as returned by the company site.
type Response struct {
	URL         string
	Body        string
	ContentType string
	StatusCode  int
}

// Error describes a page that could not be retrieved or rendered.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures page retrieval.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
	// Renderer, when set, re-renders pages whose static text is too short
	Renderer Renderer
	// AllowPrivateNetworks disables the public address check. Ignored when Client is set.
	AllowPrivateNetworks bool
}

// DefaultOptions returns the options used by the company summary endpoint.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (o *Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	if o.AllowPrivateNetworks {
		return &http.Client{Timeout: o.Timeout}
	}
	dialer := &net.Dialer{Timeout: o.Timeout, Control: publicOnly}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// a proxy would be dialed instead of the target, hiding it from the check
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: o.Timeout, Transport: transport}
}

// publicOnly runs after name resolution, so redirects and DNS answers are checked too.
func publicOnly(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || blockedIP(ip) {
		return ErrBlockedAddress
	}
	return nil
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast()
}

// validateURL accepts absolute http and https URLs only.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{URL: raw, Message: "invalid URL", Cause: err}
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &Error{URL: raw, Message: "invalid URL"}
	}
	return nil
}

// checkLiteralHost rejects IP literals and localhost names before any request is made.
func checkLiteralHost(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &Error{URL: raw, Message: "invalid URL", Cause: err}
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return &Error{URL: raw, Message: "blocked address", Cause: ErrBlockedAddress}
	}
	if ip := net.ParseIP(host); ip != nil && blockedIP(ip) {
		return &Error{URL: raw, Message: "blocked address", Cause: ErrBlockedAddress}
	}
	return nil
}

// Get downloads rawURL. A non-200 status returns both the response and an error
// so callers can report the status code.
func Get(ctx context.Context, rawURL string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if !opts.AllowPrivateNetworks && opts.Client == nil {
		if err := checkLiteralHost(rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "build request", Cause: err}
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := opts.httpClient().Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	limit := opts.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "read body", Cause: err}
	}

	out := &Response{
		URL:         rawURL,
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return out, &Error{URL: rawURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	return out, nil
}

// mainText strips page chrome from doc and returns the text of the first
// content region, or of the body when no region matches. doc is modified.
func mainText(doc *goquery.Document) string {
	doc.Find(noiseSelector).Remove()

	region := doc.Find("body")
	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			region = s.First()
			break
		}
	}

	var lines []string
	for _, line := range strings.Split(region.Text(), "\n") {
		if line = collapseSpaces(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
