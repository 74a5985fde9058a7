package feed

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelopeBody(start, total int, posts string) string {
	return fmt.Sprintf(`var tumblr_api_read = {"posts-start":%d,"posts-total":"%d","posts":[%s]};`,
		start, total, posts)
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		q    Query
		want string
	}{
		{
			"defaults",
			"https://example.tumblr.com",
			Query{},
			"https://example.tumblr.com/api/read/json?num=50",
		},
		{
			"trailing slash trimmed",
			"https://example.tumblr.com/",
			Query{},
			"https://example.tumblr.com/api/read/json?num=50",
		},
		{
			"start and type",
			"https://example.tumblr.com",
			Query{Start: 100, Num: 25, Type: "photo"},
			"https://example.tumblr.com/api/read/json?num=25&start=100&type=photo",
		},
		{
			"num clamped to ceiling",
			"https://example.tumblr.com",
			Query{Num: 500},
			"https://example.tumblr.com/api/read/json?num=50",
		},
		{
			"tag and filter",
			"https://example.tumblr.com",
			Query{Tag: "cats", Filter: "text"},
			"https://example.tumblr.com/api/read/json?filter=text&num=50&tagged=cats",
		},
		{
			"post id excludes start and type",
			"https://example.tumblr.com",
			Query{PostID: "42", Start: 100, Type: "photo"},
			"https://example.tumblr.com/api/read/json?id=42&num=50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageURL(tt.base, tt.q); got != tt.want {
				t.Errorf("PageURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	page, err := parseEnvelope([]byte(envelopeBody(10, 120, `{"id":"1"},{"id":2}`)))
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	if page.Start != 10 || page.Total != 120 {
		t.Errorf("got start=%d total=%d", page.Start, page.Total)
	}
	if len(page.Posts) != 2 {
		t.Fatalf("got %d posts", len(page.Posts))
	}
	if page.Posts[0].ID() != "1" || page.Posts[1].ID() != "2" {
		t.Errorf("post ids = %q, %q", page.Posts[0].ID(), page.Posts[1].ID())
	}
	if !page.HasMore() {
		t.Error("HasMore() = false for partial page")
	}
}

func TestParseEnvelopeMalformed(t *testing.T) {
	for _, body := range []string{
		`{"posts":[]}`,
		`var tumblr_api_read = {"posts":[]}`, // no terminator
		`var tumblr_api_read = not json;`,
		``,
	} {
		if _, err := parseEnvelope([]byte(body)); err == nil {
			t.Errorf("parseEnvelope(%q) succeeded", body)
		}
	}
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/read/json" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, envelopeBody(0, 2, `{"id":"1"},{"id":"2"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{Logger: discardLogger()})
	page, err := c.FetchPage(context.Background(), srv.URL, Query{})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Posts) != 2 || page.Total != 2 {
		t.Errorf("got %d posts, total %d", len(page.Posts), page.Total)
	}
	if page.HasMore() {
		t.Error("HasMore() = true on the last page")
	}
}

func TestFetchPageGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, envelopeBody(0, 1, `{"id":"1"}`))
		gz.Close()
	}))
	defer srv.Close()

	c := NewClient(Options{Logger: discardLogger()})
	page, err := c.FetchPage(context.Background(), srv.URL, Query{})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Posts) != 1 || page.Posts[0].ID() != "1" {
		t.Errorf("got posts %v", page.Posts)
	}
}

func TestFetchPageHTTPStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Options{Attempts: 3, RetryDelay: time.Millisecond, Logger: discardLogger()})
	_, err := c.FetchPage(context.Background(), srv.URL, Query{})

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrHTTPStatus || fe.Status != 404 {
		t.Fatalf("got error %v", err)
	}
	if fe.Retryable() {
		t.Error("http status error reported retryable")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestFetchPageMalformedNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `<html>not a feed</html>`)
	}))
	defer srv.Close()

	c := NewClient(Options{Attempts: 3, RetryDelay: time.Millisecond, Logger: discardLogger()})
	_, err := c.FetchPage(context.Background(), srv.URL, Query{})

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Kind != ErrMalformedPayload {
		t.Fatalf("got error %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestFetchPageRetriesTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			// Close the connection mid-response to simulate a reset.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("response writer is not a hijacker")
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		fmt.Fprint(w, envelopeBody(0, 1, `{"id":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(Options{Attempts: 5, RetryDelay: time.Millisecond, Logger: discardLogger()})
	page, err := c.FetchPage(context.Background(), srv.URL, Query{})
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Errorf("got %d posts", len(page.Posts))
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hit %d times, want 3", n)
	}
}

func TestFetchPageRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		hj := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(Options{Attempts: 3, RetryDelay: time.Millisecond, Logger: discardLogger()})
	_, err := c.FetchPage(context.Background(), srv.URL, Query{})

	var fe *FetchError
	if !errors.As(err, &fe) || !fe.Retryable() {
		t.Fatalf("got error %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("server hit %d times, want 3", n)
	}
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		in   string
		want flexInt
	}{
		{`120`, 120},
		{`"120"`, 120},
		{`""`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		var f flexInt
		if err := f.UnmarshalJSON([]byte(tt.in)); err != nil {
			t.Errorf("UnmarshalJSON(%s): %v", tt.in, err)
			continue
		}
		if f != tt.want {
			t.Errorf("UnmarshalJSON(%s) = %d, want %d", tt.in, f, tt.want)
		}
	}
	var f flexInt
	if err := f.UnmarshalJSON([]byte(`"abc"`)); err == nil {
		t.Error(`UnmarshalJSON("abc") succeeded`)
	}
}
