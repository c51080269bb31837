package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goheros/datastore_sdk_go/internal/httpx"
	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

const (
	// TokenURL is the Google OAuth2 token endpoint.
	TokenURL = "https://oauth2.googleapis.com/token"

	// JWTBearerGrantType is the grant type of the assertion exchange.
	JWTBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// Token is an OAuth2 access token issued by the token endpoint. Its expiry
// is not tracked; ExpiresIn is informational.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchanger trades signed assertions for access tokens.
type Exchanger struct {
	tokenURL string
	client   *httpx.Client
	logger   *slog.Logger
}

type exchangerConfig struct {
	tokenURL   string
	httpClient *http.Client
	logger     *slog.Logger
}

// ExchangerOption configures an Exchanger.
type ExchangerOption func(*exchangerConfig)

// WithTokenURL points the exchanger at a different token endpoint.
func WithTokenURL(tokenURL string) ExchangerOption {
	return func(c *exchangerConfig) {
		if strings.TrimSpace(tokenURL) != "" {
			c.tokenURL = strings.TrimSpace(tokenURL)
		}
	}
}

// WithHTTPClient overrides the HTTP client used for the exchange.
func WithHTTPClient(h *http.Client) ExchangerOption {
	return func(c *exchangerConfig) {
		c.httpClient = h
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) ExchangerOption {
	return func(c *exchangerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewExchanger returns an Exchanger for the default token endpoint unless
// WithTokenURL says otherwise.
func NewExchanger(opts ...ExchangerOption) (*Exchanger, error) {
	cfg := exchangerConfig{tokenURL: TokenURL, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := httpx.NewClient(cfg.tokenURL, httpx.WithHTTPClient(cfg.httpClient))
	if err != nil {
		return nil, fmt.Errorf("auth: init token exchanger: %w", err)
	}
	return &Exchanger{tokenURL: cfg.tokenURL, client: client, logger: cfg.logger}, nil
}

// TokenURL returns the endpoint assertions are exchanged at. Assertions must
// name it as their audience.
func (e *Exchanger) TokenURL() string {
	return e.tokenURL
}

// Exchange posts assertion to the token endpoint and returns the issued
// access token.
func (e *Exchanger) Exchange(ctx context.Context, assertion string) (*Token, error) {
	if e == nil || e.client == nil {
		return nil, errors.New("auth: exchanger is nil")
	}
	form := url.Values{
		"grant_type": {JWTBearerGrantType},
		"assertion":  {assertion},
	}
	resp, err := e.client.Do(ctx, &httpx.Request{
		Method: http.MethodPost,
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:   strings.NewReader(form.Encode()),
	})
	if err != nil {
		var httpErr *httpx.HTTPError
		if errors.As(err, &httpErr) {
			e.logger.Debug("token exchange rejected", "status", httpErr.StatusCode)
			return nil, exchangeError(httpErr.StatusCode, httpErr.Body)
		}
		return nil, apierror.Transport(err)
	}

	data, err := httpx.ReadAllAndClose(resp.Body)
	if err != nil {
		return nil, apierror.Transport(err)
	}
	e.logger.Debug("token exchange", "status", resp.StatusCode)

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, apierror.Wrap(apierror.KindAuthExchange, http.StatusBadGateway, err,
			"decode token response (HTTP %d): %v", resp.StatusCode, err)
	}
	if token.AccessToken == "" {
		return nil, apierror.New(apierror.KindAuthExchange, http.StatusBadGateway,
			"token response (HTTP %d) has no access_token", resp.StatusCode)
	}
	return &token, nil
}

// exchangeError maps a rejected exchange onto KindAuthExchange. The OAuth2
// error code becomes the status text when the body carries one.
func exchangeError(statusCode int, body []byte) *apierror.Error {
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	e := apierror.New(apierror.KindAuthExchange, statusCode, "token exchange rejected: %s", strings.TrimSpace(string(body)))
	if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
		e.Status = oauthErr.Error
		e.Message = "token exchange rejected: " + oauthErr.Error
		if oauthErr.Description != "" {
			e.Message += ": " + oauthErr.Description
		}
	}
	return e
}
