package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/goheros/datastore_sdk_go/internal/googleapi"
	"github.com/goheros/datastore_sdk_go/internal/httpx"
	"github.com/goheros/datastore_sdk_go/pkg/apierror"
	"github.com/goheros/datastore_sdk_go/pkg/auth"
)

// DefaultBaseURL is the versioned root of the REST API.
const DefaultBaseURL = "https://datastore.googleapis.com/v1"

// Client issues lookup, runQuery and beginTransaction calls for one project.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	http       *httpx.Client
	project    string
	namespace  string
	credential string
	logger     *slog.Logger
}

type clientConfig struct {
	project    string
	baseURL    string
	httpClient *http.Client
	namespace  string
	userAgent  string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBaseURL points the client at another API root, such as a local fake.
func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithProject replaces the project id passed to New or read by NewFromEnv.
func WithProject(project string) Option {
	return func(c *clientConfig) {
		c.project = strings.TrimSpace(project)
	}
}

// WithHTTPClient overrides the HTTP client used for every call.
func WithHTTPClient(h *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = h
	}
}

// WithNamespace sets the namespace used by keys and queries that leave it
// empty.
func WithNamespace(namespace string) Option {
	return func(c *clientConfig) {
		c.namespace = namespace
	}
}

// WithUserAgent replaces the User-Agent header sent with every call.
func WithUserAgent(ua string) Option {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger for request diagnostics. Credentials are never
// logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a Client for project authenticated by strategy.
func New(project string, strategy auth.Strategy, opts ...Option) (*Client, error) {
	cfg := resolveOptions(opts)
	if cfg.project != "" {
		project = cfg.project
	}
	if strings.TrimSpace(project) == "" {
		return nil, errors.New("datastore: project id is required")
	}
	if strategy == nil {
		return nil, errors.New("datastore: auth strategy is required")
	}

	cl, err := httpx.NewClient(cfg.baseURL,
		httpx.WithHTTPClient(cfg.httpClient),
		httpx.WithUserAgent(cfg.userAgent),
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: %w", err)
	}
	return &Client{
		http:       cl,
		project:    project,
		namespace:  cfg.namespace,
		credential: strategy.QueryFragment(),
		logger:     cfg.logger,
	}, nil
}

func resolveOptions(opts []Option) clientConfig {
	cfg := clientConfig{baseURL: DefaultBaseURL, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Project returns the project id the client targets.
func (c *Client) Project() string { return c.project }

// Lookup fetches the entity stored under key and decodes it into T.
// A missing entity yields an error for which apierror.IsNotFound is true.
func Lookup[T any](ctx context.Context, c *Client, key Key, opts ...ReadOption) (*T, error) {
	props, err := c.LookupProperties(ctx, key, opts...)
	if err != nil {
		return nil, err
	}
	return decodeRecord[T](props)
}

// RunQuery runs q and decodes every result into T, preserving server order.
func RunQuery[T any](ctx context.Context, c *Client, q Query, opts ...ReadOption) ([]T, error) {
	records, err := c.QueryProperties(ctx, q, opts...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(records))
	for _, props := range records {
		v, err := decodeRecord[T](props)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// LookupProperties is like Lookup but returns the plain property values.
func (c *Client) LookupProperties(ctx context.Context, key Key, opts ...ReadOption) (map[string]any, error) {
	if c == nil {
		return nil, errors.New("datastore: client is nil")
	}
	if key.Namespace == "" {
		key.Namespace = c.namespace
	}
	body, err := NewLookupRequest(key, resolveReadOptions(opts))
	if err != nil {
		return nil, invalidRequest(err)
	}
	data, err := c.call(ctx, MethodLookup, body)
	if err != nil {
		return nil, err
	}
	return interpretLookup(data, key)
}

// QueryProperties is like RunQuery but returns the plain property values.
func (c *Client) QueryProperties(ctx context.Context, q Query, opts ...ReadOption) ([]map[string]any, error) {
	if c == nil {
		return nil, errors.New("datastore: client is nil")
	}
	if q.Namespace == "" {
		q.Namespace = c.namespace
	}
	body, err := NewRunQueryRequest(q, resolveReadOptions(opts))
	if err != nil {
		return nil, invalidRequest(err)
	}
	data, err := c.call(ctx, MethodRunQuery, body)
	if err != nil {
		return nil, err
	}
	return interpretQuery(data)
}

// BeginTransaction starts a transaction and returns its opaque handle. The
// handle may be passed to reads through InTransaction.
func (c *Client) BeginTransaction(ctx context.Context) (string, error) {
	if c == nil {
		return "", errors.New("datastore: client is nil")
	}
	data, err := c.call(ctx, MethodBeginTransaction, BeginTransactionRequest{})
	if err != nil {
		return "", err
	}
	return interpretBeginTransaction(data)
}

// call POSTs body to the project's method endpoint and returns the 2xx
// response body. Failures are mapped onto *apierror.Error.
func (c *Client) call(ctx context.Context, method string, body any) ([]byte, error) {
	payload, contentType, err := httpx.WithJSONBody(body)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindCodec, http.StatusBadRequest, err, "encode %s request: %v", method, err)
	}

	path := endpointPath(c.project, method)
	resp, err := c.http.Do(ctx, &httpx.Request{
		Method:   http.MethodPost,
		Path:     path,
		RawQuery: c.credential,
		Header:   http.Header{"Content-Type": {contentType}},
		Body:     payload,
	})
	if err != nil {
		var httpErr *httpx.HTTPError
		if errors.As(err, &httpErr) {
			c.logger.Debug("datastore call failed", "method", method, "project", c.project, "url", httpErr.URL, "status", httpErr.StatusCode)
			return nil, googleapi.ErrorFromHTTP(httpErr)
		}
		transportErr := apierror.Transport(err)
		c.logger.Debug("datastore transport failure", "method", method, "project", c.project, "url", transportErr.URL, "error", transportErr.Message)
		return nil, transportErr
	}

	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, apierror.Transport(err)
	}
	c.logger.Debug("datastore call", "method", method, "project", c.project, "status", resp.StatusCode, "bytes", len(data))
	return data, nil
}

func invalidRequest(err error) *apierror.Error {
	return apierror.Wrap(apierror.KindStructural, http.StatusBadRequest, err, "%v", err)
}
