package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every request issued through a Client built without
// WithHTTPClient.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent identifies the SDK unless WithUserAgent replaces it.
const DefaultUserAgent = "datastore_sdk_go"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used by the helper.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithUserAgent sets the User-Agent sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.headers.Set("User-Agent", ua)
		}
	}
}

// Client wraps http.Client providing base URL utilities. Each call to Do
// issues exactly one request; nothing is retried.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	headers    http.Header
}

// Request describes a single outbound request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// RawQuery is appended verbatim after Query, joined with '&'.
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// NewClient creates a Client for the provided base URL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("httpx: base URL is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httpx: invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("httpx: base URL %q must use http or https", baseURL)
	}

	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		headers: http.Header{
			"Accept":     {"application/json"},
			"User-Agent": {DefaultUserAgent},
		},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do executes the provided request. Responses with a status outside 2xx,
// including redirects the HTTP client did not follow, are returned as
// *HTTPError with the body already read and closed. Failures
// of the underlying HTTP client are returned unchanged (typically *url.Error).
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("httpx: request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		return nil, errors.New("httpx: HTTP method is required")
	}

	fullURL := c.buildURL(req.Path, req.Query, req.RawQuery)

	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = c.headers.Clone()
	for k, values := range req.Header {
		httpReq.Header[k] = append([]string(nil), values...)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readError(httpReq, resp)
	}
	return resp, nil
}

func closeBody(rc io.ReadCloser) {
	if rc != nil {
		_ = rc.Close()
	}
}

// buildURL appends path to the base URL path, so a base of
// https://host/v1 and a path of projects/p:lookup yields
// https://host/v1/projects/p:lookup. An empty path targets the base URL.
func (c *Client) buildURL(path string, q url.Values, rawQuery string) string {
	full := *c.baseURL
	if p := strings.TrimLeft(path, "/"); p != "" {
		full.Path = strings.TrimRight(full.Path, "/") + "/" + p
		full.RawPath = ""
	}

	var parts []string
	if len(q) > 0 {
		parts = append(parts, q.Encode())
	}
	if rawQuery != "" {
		parts = append(parts, rawQuery)
	}
	full.RawQuery = strings.Join(parts, "&")
	return full.String()
}

func readError(req *http.Request, resp *http.Response) error {
	defer closeBody(resp.Body)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpx: read error body: %w", err)
	}
	return newHTTPError(req, resp, body)
}

// WithJSONBody serializes the supplied value into JSON and returns a reusable reader.
func WithJSONBody(v any) (io.Reader, string, error) {
	data, err := jsonMarshal(v)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), "application/json", nil
}

// ReadAllAndClose drains the reader and ensures it is closed.
func ReadAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer closeBody(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func jsonMarshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")
	return data, nil
}
