package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/shelve/internal/config"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// HTTPConfig configures HTTPOpener.
type HTTPConfig struct {
	// FetchTimeout is the hard limit for one fetch, separate from the
	// collector's soft load timeout.
	FetchTimeout time.Duration
	// RequestsPerSecond throttles request starts across all sessions.
	// Zero disables throttling.
	RequestsPerSecond float64
	// MaxBytes caps how much of a body is read.
	MaxBytes  int64
	UserAgent string
}

// HTTPConfigFrom converts the sync section of the application config.
func HTTPConfigFrom(cfg config.SyncConfig) HTTPConfig {
	return HTTPConfig{
		FetchTimeout:      cfg.FetchTimeout.Duration(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxBytes:          cfg.MaxContentBytes,
		UserAgent:         cfg.UserAgent,
	}
}

// HTTPOpener fetches pages over HTTP. Each session streams the body in the
// background so a slow page can still be extracted after the soft timeout.
type HTTPOpener struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     HTTPConfig
}

// NewHTTPOpener returns an opener. client may be nil.
func NewHTTPOpener(cfg HTTPConfig, client *http.Client) *HTTPOpener {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "shelve/1.0"
	}
	if client == nil {
		client = &http.Client{}
	}
	o := &HTTPOpener{client: client, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return o
}

// Open validates the URL and starts fetching it.
func (o *HTTPOpener) Open(ctx context.Context, item tree.Item) (Session, error) {
	u, err := url.Parse(item.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing url: %v", ErrContentUnavailable, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrContentUnavailable, u.Scheme)
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FetchTimeout)
	s := &httpSession{
		loaded: make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.fetch(fetchCtx, o, u.String())
	return s, nil
}

type httpSession struct {
	loaded chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	mu       sync.Mutex
	buf      bytes.Buffer
	fetchErr error
	isHTML   bool

	closeOnce sync.Once
}

func (s *httpSession) fetch(ctx context.Context, o *HTTPOpener, target string) {
	defer close(s.done)

	err := func() error {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", o.cfg.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.1")

		resp, err := o.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		switch {
		case mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml":
			s.mu.Lock()
			s.isHTML = true
			s.mu.Unlock()
		case strings.HasPrefix(mediaType, "text/"):
		default:
			return fmt.Errorf("unsupported content type %q", mediaType)
		}

		chunk := make([]byte, 32<<10)
		body := io.LimitReader(resp.Body, o.cfg.MaxBytes)
		for {
			n, err := body.Read(chunk)
			if n > 0 {
				s.mu.Lock()
				s.buf.Write(chunk[:n])
				s.mu.Unlock()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}()

	s.mu.Lock()
	s.fetchErr = err
	s.mu.Unlock()
	close(s.loaded)
}

func (s *httpSession) Loaded() <-chan struct{} {
	return s.loaded
}

// Extract parses whatever has been received so far.
func (s *httpSession) Extract(context.Context) (string, error) {
	s.mu.Lock()
	data := bytes.Clone(s.buf.Bytes())
	fetchErr := s.fetchErr
	isHTML := s.isHTML
	s.mu.Unlock()

	var text string
	if isHTML {
		title, body := ExtractText(bytes.NewReader(data))
		text = compose(title, body)
	} else {
		text = collapse(string(data))
	}

	if text == "" && fetchErr != nil {
		return "", fmt.Errorf("%w: %v", ErrContentUnavailable, fetchErr)
	}
	return text, nil
}

// Close aborts the fetch and waits for it to stop.
func (s *httpSession) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
