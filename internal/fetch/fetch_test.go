package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localOptions lets tests reach httptest servers on loopback
func localOptions() *Options {
	opts := DefaultOptions()
	opts.AllowPrivateNetworks = true
	return opts
}

func TestGet(t *testing.T) {
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body><h1>Acme</h1></body></html>"))
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.URL, localOptions())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.ContentType)
	assert.Contains(t, resp.Body, "<h1>Acme</h1>")
	assert.Equal(t, DefaultUserAgent, headers.Get("User-Agent"))
	assert.Contains(t, headers.Get("Accept"), "text/html")
}

func TestGet_RejectsNonHTTPURLs(t *testing.T) {
	tests := []string{
		"acme.test/about",
		"ftp://acme.test/file",
		"file:///etc/passwd",
		"https://",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			resp, err := Get(context.Background(), raw, nil)
			require.Error(t, err)
			assert.Nil(t, resp)

			var fetchErr *Error
			require.ErrorAs(t, err, &fetchErr)
			assert.Equal(t, "invalid URL", fetchErr.Message)
		})
	}
}

func TestGet_CapsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	opts := localOptions()
	opts.MaxBodyBytes = 10
	resp, err := Get(context.Background(), server.URL, opts)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 10)
}

func TestGet_NonOKStatusKeepsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resp, err := Get(context.Background(), server.URL, localOptions())
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, err.Error(), "HTTP status 404")
}

func TestGet_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Get(ctx, server.URL, localOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_BlocksNonPublicAddresses(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tests := []string{
		server.URL,
		"http://localhost/admin",
		"http://api.localhost/",
		"http://10.0.0.5/",
		"http://192.168.1.1/",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://0.0.0.0/",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			resp, err := Get(context.Background(), raw, nil)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, ErrBlockedAddress)
		})
	}
	assert.Zero(t, hits)
}

func TestPublicOnly(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:8080", "10.1.2.3:80", "[::1]:443", "[fd00::1]:443", "224.0.0.1:80"} {
		assert.ErrorIs(t, publicOnly("tcp", addr, nil), ErrBlockedAddress, addr)
	}
	assert.NoError(t, publicOnly("tcp", "93.184.216.34:443", nil))
	assert.NoError(t, publicOnly("tcp6", "[2606:2800:220:1:248:1893:25c8:1946]:443", nil))
}

func TestMainText(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		want    string
		missing []string
	}{
		{
			name: "main region wins over chrome",
			html: `<body><nav>Jobs</nav><main><h1>About  Acme</h1>
				<p>We build robots.</p></main><footer>Copyright</footer></body>`,
			want:    "About Acme\nWe build robots.",
			missing: []string{"Jobs", "Copyright"},
		},
		{
			name: "about section",
			html: `<body><div class="about-content">Founded in 2010.</div>
				<div class="cookie-banner">Accept cookies</div></body>`,
			want:    "Founded in 2010.",
			missing: []string{"cookies"},
		},
		{
			name:    "falls back to body",
			html:    `<body><div>Plain   page</div><script>track()</script></body>`,
			want:    "Plain page",
			missing: []string{"track"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)

			got := mainText(doc)
			assert.Equal(t, tt.want, got)
			for _, m := range tt.missing {
				assert.NotContains(t, got, m)
			}
		})
	}
}
