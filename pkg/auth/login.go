package auth

import (
	"context"
	"log/slog"
	"time"
)

// LoginConfig describes a service-account login.
type LoginConfig struct {
	// Issuer is the service account email.
	Issuer string
	// PrivateKey is the PEM encoded RSA key of the service account.
	PrivateKey []byte
	// Scopes defaults to DatastoreScope.
	Scopes []string
	// TokenURL defaults to TokenURL. Ignored when Exchanger is set.
	TokenURL string
	// Exchanger overrides the token exchanger.
	Exchanger *Exchanger
	// Cache, when set, receives the access token under TokenCacheKey.
	Cache  TokenCache
	Logger *slog.Logger
	// Now overrides the clock used for the assertion.
	Now func() time.Time
}

// Login signs an assertion, exchanges it for an access token and returns the
// resulting BearerToken strategy. A cache write failure is logged and does
// not fail the login.
func Login(ctx context.Context, cfg LoginConfig) (BearerToken, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	exchanger := cfg.Exchanger
	if exchanger == nil {
		var err error
		exchanger, err = NewExchanger(WithTokenURL(cfg.TokenURL), WithLogger(logger))
		if err != nil {
			return "", err
		}
	}

	builder, err := NewAssertionBuilder(cfg.Issuer, cfg.PrivateKey,
		WithScopes(cfg.Scopes...),
		WithAudience(exchanger.TokenURL()),
		WithClock(cfg.Now),
	)
	if err != nil {
		return "", err
	}
	assertion, err := builder.Build()
	if err != nil {
		return "", err
	}

	token, err := exchanger.Exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	logger.Debug("obtained access token", "issuer", cfg.Issuer, "expires_in", token.ExpiresIn)

	if cfg.Cache != nil {
		cfg.Cache.Put(TokenCacheKey, token.AccessToken)
		if err := cfg.Cache.Flush(); err != nil {
			logger.Warn("token cache flush failed", "error", err)
		}
	}
	return BearerToken(token.AccessToken), nil
}
