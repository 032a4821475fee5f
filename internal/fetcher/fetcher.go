// Package fetcher implements the fetch executor: HTTP retrieval through a
// colly collector with per-host pacing, a MIME allow-list and link
// extraction.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/hostpolicy"
	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
	"github.com/tunedex/tunecrawler/internal/urlkit"
)

// Rules carries the crawl rules loaded from the store at startup.
type Rules struct {
	// AllowedMimePatterns are wildcard patterns such as "text/*". An empty
	// list allows every MIME type.
	AllowedMimePatterns []string
	// RefusedExtensions are bare extensions ("exe", "zip") whose links are
	// never enqueued.
	RefusedExtensions []string
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	IgnoreRobots bool
	MaxBodyBytes int64
}

func (c *Config) applyDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "tunecrawler/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
}

// Executor fetches one URL per assignment.
type Executor struct {
	cfg     Config
	mime    []string
	refused map[string]struct{}
	limiter *hostpolicy.Limiter
	base    *colly.Collector
	logger  *zap.Logger
}

// New builds an Executor around a shared per-host limiter.
func New(cfg Config, limiter *hostpolicy.Limiter, rules Rules, logger *zap.Logger) *Executor {
	cfg.applyDefaults()

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	refused := make(map[string]struct{}, len(rules.RefusedExtensions))
	for _, ext := range rules.RefusedExtensions {
		refused[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	return &Executor{
		cfg:     cfg,
		mime:    rules.AllowedMimePatterns,
		refused: refused,
		limiter: limiter,
		base:    c,
		logger:  logger,
	}
}

// Role identifies the executor to the dispatcher.
func (e *Executor) Role() string { return protocol.RoleFetcher }

// Execute fetches the assigned URL and reports the outcome. Failures are
// classified so the dispatcher can drive the retry ladder and host policy.
func (e *Executor) Execute(ctx context.Context, assign *protocol.Assign) protocol.Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	outcome := e.fetch(ctx, assign.Payload.URL)
	if outcome.ErrorKind != store.FetchErrNone {
		e.logger.Warn("fetch failed",
			zap.String("url", assign.Payload.URL),
			zap.String("kind", string(outcome.ErrorKind)),
			zap.String("detail", outcome.ErrorDetail))
	} else {
		e.logger.Debug("fetch complete",
			zap.String("url", assign.Payload.URL),
			zap.Int("http_status", outcome.HTTPStatus),
			zap.Int64("size_bytes", outcome.SizeBytes),
			zap.Int("links", len(outcome.Links)))
	}
	return protocol.Outcome{Fetch: &outcome}
}

func (e *Executor) fetch(ctx context.Context, rawURL string) store.FetchOutcome {
	if err := e.limiter.Wait(ctx, rawURL); err != nil {
		kind, detail := e.classify(err, rawURL)
		return store.FetchOutcome{ErrorKind: kind, ErrorDetail: detail}
	}

	collector := e.base.Clone()
	collector.UserAgent = e.cfg.UserAgent
	collector.IgnoreRobotsTxt = e.cfg.IgnoreRobots
	collector.MaxBodySize = int(e.cfg.MaxBodyBytes)
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		mu       sync.Mutex
		outcome  store.FetchOutcome
		links    []string
		seen     = make(map[string]struct{})
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		defer mu.Unlock()
		outcome.HTTPStatus = r.StatusCode
		outcome.MimeType = normalizeMime(r.Headers.Get("Content-Type"))
		outcome.SizeBytes = int64(len(r.Body))
		if e.mimeAllowed(outcome.MimeType) {
			outcome.Body = append([]byte(nil), r.Body...)
		}
	})

	collector.OnHTML("a[href]", func(el *colly.HTMLElement) {
		link := el.Request.AbsoluteURL(el.Attr("href"))
		if !e.wantLink(link) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})

	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if r != nil && r.StatusCode > 0 {
			outcome.HTTPStatus = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(rawURL); err != nil {
			mu.Lock()
			if fetchErr == nil {
				fetchErr = err
			}
			mu.Unlock()
		}
	}()

	select {
	case <-ctx.Done():
		// The collector's own request timeout unblocks the goroutine.
		<-done
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	outcome.Links = links

	if fetchErr != nil {
		if outcome.HTTPStatus >= 400 {
			// HTTP-level failure; the store decides terminal versus retry
			// from the status code alone.
			outcome.ErrorDetail = fmt.Sprintf("http status %d", outcome.HTTPStatus)
			return outcome
		}
		outcome.ErrorKind, outcome.ErrorDetail = e.classify(fetchErr, rawURL)
		return outcome
	}
	if outcome.HTTPStatus == 0 {
		outcome.ErrorKind = store.FetchErrOther
		outcome.ErrorDetail = "no response received"
	}
	return outcome
}

// classify maps a transport error onto the failure taxonomy. DNS failures are
// logged in the exact form the dispatcher's log scanner matches.
func (e *Executor) classify(err error, rawURL string) (store.FetchErrorKind, string) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(err.Error(), "no such host") {
		host := urlkit.ExtractHost(rawURL)
		e.logger.Error(fmt.Sprintf("Failed to resolve '%s'", host), zap.Error(err))
		return store.FetchErrDNS, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return store.FetchErrTimeout, err.Error()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return store.FetchErrTimeout, err.Error()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return store.FetchErrConnection, err.Error()
	}
	return store.FetchErrOther, err.Error()
}

// wantLink keeps http(s) links whose extension is not on the refused list.
func (e *Executor) wantLink(link string) bool {
	if link == "" || !urlkit.IsWebScheme(link) {
		return false
	}
	if ext := urlkit.Extension(link); ext != "" {
		if _, refused := e.refused[ext]; refused {
			return false
		}
	}
	return true
}

func (e *Executor) mimeAllowed(mime string) bool {
	if len(e.mime) == 0 {
		return true
	}
	for _, pattern := range e.mime {
		if ok, err := path.Match(strings.ToLower(pattern), mime); err == nil && ok {
			return true
		}
	}
	return false
}

// normalizeMime strips parameters and lowercases a Content-Type value.
func normalizeMime(contentType string) string {
	mime, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mime))
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
