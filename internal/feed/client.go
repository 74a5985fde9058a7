// Package feed fetches pages of a Tumblr blog's v1 JSON feed.
package feed

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultPageSize is the feed's default and ceiling for num.
	DefaultPageSize = 50

	apiPath = "/api/read/json"

	// The v1 endpoint wraps its JSON payload in a JavaScript assignment.
	envelopePrefix = "var tumblr_api_read = "
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

const (
	// ErrTimeout is a request or read timeout. Retryable.
	ErrTimeout ErrorKind = iota
	// ErrConnReset is a connection reset by the remote peer. Retryable.
	ErrConnReset
	// ErrHTTPStatus is a non-2xx response. Not retryable.
	ErrHTTPStatus
	// ErrMalformedPayload means the body did not parse as the feed
	// envelope. Not retryable.
	ErrMalformedPayload
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrConnReset:
		return "connection reset"
	case ErrHTTPStatus:
		return "http status"
	case ErrMalformedPayload:
		return "malformed payload"
	}
	return "unknown"
}

// FetchError is a classified feed fetch failure.
type FetchError struct {
	Kind   ErrorKind
	URL    string
	Status int // set for ErrHTTPStatus
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == ErrHTTPStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *FetchError) Retryable() bool {
	return e.Kind == ErrTimeout || e.Kind == ErrConnReset
}

// Query selects one page of the feed. PostID is mutually exclusive with
// Start and Type; when set, those are ignored.
type Query struct {
	Start  int
	Num    int    // page size, default and ceiling 50
	Type   string // post type filter: text, quote, photo, link, chat, video, audio
	Tag    string
	Filter string // content post-processing: "text" or "none"
	PostID string
}

// Page is one fetched batch of posts.
type Page struct {
	Posts []Post
	Start int
	Total int
}

// HasMore reports whether pages remain past this one.
func (p *Page) HasMore() bool {
	return p.Start+len(p.Posts) < p.Total
}

// flexInt decodes a JSON number that Tumblr sometimes emits as a quoted
// string ("posts-total" in particular).
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type envelope struct {
	Posts []Post  `json:"posts"`
	Start flexInt `json:"posts-start"`
	Total flexInt `json:"posts-total"`
}

// Options configures a Client.
type Options struct {
	Timeout    time.Duration // per-attempt, default 60s
	Attempts   uint          // retry attempts for transient errors, default 5
	RetryDelay time.Duration // fixed delay between attempts, default 5s
	UserAgent  string
	Logger     *slog.Logger
}

// Client fetches feed pages with bounded retries on transient failures.
type Client struct {
	http      *http.Client
	attempts  uint
	delay     time.Duration
	userAgent string
	logger    *slog.Logger
}

// NewClient creates a feed client.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tumblrvault/1.0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		attempts:  opts.Attempts,
		delay:     opts.RetryDelay,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
}

// PageURL builds the request URL for a query. Construction is a pure
// function of its inputs; query parameters are emitted in sorted order.
func PageURL(baseURL string, q Query) string {
	base := strings.TrimSuffix(baseURL, "/")

	params := url.Values{}
	if q.PostID != "" {
		params.Set("id", q.PostID)
	} else {
		if q.Start > 0 {
			params.Set("start", strconv.Itoa(q.Start))
		}
		if q.Type != "" {
			params.Set("type", q.Type)
		}
	}
	num := q.Num
	if num <= 0 || num > DefaultPageSize {
		num = DefaultPageSize
	}
	params.Set("num", strconv.Itoa(num))
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	if q.Tag != "" {
		params.Set("tagged", q.Tag)
	}

	return base + apiPath + "?" + params.Encode()
}

// FetchPage fetches and decodes one page of the feed. Transient failures
// (timeout, connection reset) are retried with a fixed delay up to the
// configured attempt count; other failures surface immediately.
func (c *Client) FetchPage(ctx context.Context, baseURL string, q Query) (*Page, error) {
	pageURL := PageURL(baseURL, q)

	var page *Page
	err := retry.Do(
		func() error {
			p, err := c.fetchOnce(ctx, pageURL)
			if err != nil {
				return err
			}
			page = p
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			var fe *FetchError
			return errors.As(err, &fe) && fe.Retryable()
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("retrying feed fetch", "url", pageURL, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	// Requesting compression explicitly means the body must be decoded
	// by hand; the transport's automatic gzip handling is bypassed.
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Kind: ErrHTTPStatus, URL: pageURL, Status: resp.StatusCode}
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, classifyTransport(pageURL, err)
	}

	page, err := parseEnvelope(body)
	if err != nil {
		return nil, &FetchError{Kind: ErrMalformedPayload, URL: pageURL, Err: err}
	}
	return page, nil
}

// decodeBody undoes whatever content-encoding the server applied.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		// Most servers send zlib-wrapped deflate; fall back to raw.
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		zr, err := zlib.NewReader(strings.NewReader(string(body)))
		if err != nil {
			fr := flate.NewReader(strings.NewReader(string(body)))
			defer fr.Close()
			return io.ReadAll(fr)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}

	return io.ReadAll(reader)
}

// parseEnvelope strips the JavaScript assignment wrapper and decodes the
// JSON payload inside.
func parseEnvelope(body []byte) (*Page, error) {
	content := strings.TrimSpace(string(body))
	if !strings.HasPrefix(content, envelopePrefix) {
		return nil, errors.New("missing feed envelope")
	}
	content = strings.TrimPrefix(content, envelopePrefix)

	end := strings.LastIndexByte(content, ';')
	if end < 0 {
		return nil, errors.New("unterminated feed envelope")
	}
	content = content[:end]

	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}

	return &Page{
		Posts: env.Posts,
		Start: int(env.Start),
		Total: int(env.Total),
	}, nil
}

func classifyTransport(pageURL string, err error) *FetchError {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded):
		return &FetchError{Kind: ErrTimeout, URL: pageURL, Err: err}
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return &FetchError{Kind: ErrConnReset, URL: pageURL, Err: err}
	default:
		// Unclassified transport failures are treated like resets:
		// worth one more try, never a hard parse failure.
		return &FetchError{Kind: ErrConnReset, URL: pageURL, Err: err}
	}
}
