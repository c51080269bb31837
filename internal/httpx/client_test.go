package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		path     string
		query    url.Values
		raw      string
		expected string
	}{
		{
			name:     "versioned base keeps prefix",
			base:     "https://datastore.googleapis.com/v1",
			path:     "projects/goheros:lookup",
			raw:      "key=abc",
			expected: "https://datastore.googleapis.com/v1/projects/goheros:lookup?key=abc",
		},
		{
			name:     "trailing slash and leading slash",
			base:     "https://oauth2.googleapis.com/",
			path:     "/token",
			expected: "https://oauth2.googleapis.com/token",
		},
		{
			name:     "empty path targets base",
			base:     "https://oauth2.googleapis.com/token",
			expected: "https://oauth2.googleapis.com/token",
		},
		{
			name:     "query values and raw query",
			base:     "http://localhost:8787/v1",
			path:     "projects/p:runQuery",
			query:    url.Values{"alt": {"json"}},
			raw:      "access_token=t",
			expected: "http://localhost:8787/v1/projects/p:runQuery?alt=json&access_token=t",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.base)
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if got := c.buildURL(tc.path, tc.query, tc.raw); got != tc.expected {
				t.Fatalf("buildURL = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestNewClientRejectsBadBase(t *testing.T) {
	for _, base := range []string{"", "   ", "://bad", "ftp://example.com"} {
		if _, err := NewClient(base); err == nil {
			t.Fatalf("NewClient(%q) succeeded, want error", base)
		}
	}
}

func TestDoReturnsHTTPErrorWithoutRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json; charset=UTF-8")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"code":503,"message":"busy","status":"UNAVAILABLE"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "x"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", httpErr.StatusCode)
	}
	if !httpErr.IsJSON() {
		t.Fatalf("expected a JSON error body")
	}
	if httpErr.Method != http.MethodPost || !strings.HasSuffix(httpErr.URL, "/x") {
		t.Fatalf("error request = %s %s", httpErr.Method, httpErr.URL)
	}
	if calls != 1 {
		t.Fatalf("server saw %d calls, want exactly 1", calls)
	}
}

func TestDoTreatsNon2xxAsHTTPError(t *testing.T) {
	for _, code := range []int{http.StatusMultipleChoices, http.StatusNotModified, http.StatusFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c, err := NewClient(srv.URL)
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		_, err = c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "x"})
		srv.Close()
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != code {
			t.Fatalf("status %d: err = %v, want *HTTPError", code, err)
		}
	}
}

func TestDoSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "heroes/1.0" || r.Header.Get("Accept") != "application/json" {
			t.Errorf("default headers = %v", r.Header)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"a":"<b>"}` {
			t.Errorf("body = %s", body)
		}
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, WithUserAgent("heroes/1.0"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	body, contentType, err := WithJSONBody(map[string]string{"a": "<b>"})
	if err != nil {
		t.Fatalf("WithJSONBody: %v", err)
	}
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "echo",
		Header: http.Header{"Content-Type": {contentType}},
		Body:   body,
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	data, err := ReadAllAndClose(resp.Body)
	if err != nil {
		t.Fatalf("ReadAllAndClose: %v", err)
	}
	if strings.TrimSpace(string(data)) != "ok" {
		t.Fatalf("response = %q", data)
	}
}

func TestDoTransportFailureIsURLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := NewClient(base)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Do(context.Background(), &Request{Method: http.MethodPost, Path: "gone"})
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		t.Fatalf("expected *url.Error, got %T %v", err, err)
	}
}
