package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/shelve/internal/limiter"
)

const articleHTML = `<!doctype html>
<html><head><title>Go Spec</title><style>body{color:red}</style>
<script>var tracking = true;</script></head>
<body><nav>Home | About</nav>
<h1>The Go Programming Language Specification</h1>
<p>Go is a general-purpose language designed with systems programming in mind.</p>
<footer>copyright</footer>
</body></html>`

func TestExtractText(t *testing.T) {
	title, body := ExtractText(strings.NewReader(articleHTML))
	assert.Equal(t, "Go Spec", title)
	assert.Equal(t, "The Go Programming Language Specification Go is a general-purpose language designed with systems programming in mind.", body)
	assert.NotContains(t, body, "tracking")
	assert.NotContains(t, body, "Home")
}

func TestExtractText_Truncated(t *testing.T) {
	_, body := ExtractText(strings.NewReader("<html><body><p>first paragraph</p><p>second par"))
	assert.Equal(t, "first paragraph second par", body)
}

func TestCompose(t *testing.T) {
	assert.Equal(t, "body", compose("", "body"))
	assert.Equal(t, "title", compose("title", ""))
	assert.Equal(t, "Go Spec and more", compose("Go Spec", "Go Spec and more"))
	assert.Equal(t, "T\nbody", compose("T", "body"))
}

func TestHTTPOpener_FetchesHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "shelve-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	o := NewHTTPOpener(HTTPConfig{UserAgent: "shelve-test"}, srv.Client())
	c := NewCollector(o, limiter.New(1), time.Second, nil)

	text, err := c.Collect(context.Background(), leaf("g", srv.URL))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Go Spec\nThe Go Programming Language"))
}

func TestHTTPOpener_SlowPageYieldsPartialContent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>Slow</title></head><body><p>early text</p>"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	o := NewHTTPOpener(HTTPConfig{}, srv.Client())
	c := NewCollector(o, limiter.New(1), 100*time.Millisecond, nil)

	text, err := c.Collect(context.Background(), leaf("s", srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "Slow\nearly text", text)
}

func TestHTTPOpener_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.7"))
		}
	}))
	defer srv.Close()

	o := NewHTTPOpener(HTTPConfig{}, srv.Client())
	c := NewCollector(o, limiter.New(1), time.Second, nil)
	ctx := context.Background()

	_, err := c.Collect(ctx, leaf("m", srv.URL+"/missing"))
	assert.ErrorIs(t, err, ErrContentUnavailable)

	_, err = c.Collect(ctx, leaf("b", srv.URL+"/binary"))
	assert.ErrorIs(t, err, ErrContentUnavailable)

	_, err = c.Collect(ctx, leaf("f", "file:///etc/passwd"))
	assert.ErrorIs(t, err, ErrContentUnavailable)

	_, err = c.Collect(ctx, leaf("p", "place:sort=8&maxResults=10"))
	assert.ErrorIs(t, err, ErrContentUnavailable)
}

func TestHTTPOpener_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("  plain\n\ntext body "))
	}))
	defer srv.Close()

	c := NewCollector(NewHTTPOpener(HTTPConfig{}, srv.Client()), nil, time.Second, nil)
	text, err := c.Collect(context.Background(), leaf("t", srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "plain text body", text)
}
