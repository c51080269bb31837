package datastore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goheros/datastore_sdk_go/pkg/auth"
)

const (
	envProjectID    = "DATASTORE_PROJECT_ID"
	envNamespace    = "DATASTORE_NAMESPACE"
	envAPIURL       = "DATASTORE_API_URL"
	envAPIKey       = "DATASTORE_API_KEY"
	envAccessToken  = auth.TokenCacheKey
	envCredentials  = "GOOGLE_APPLICATION_CREDENTIALS"
	envPrivateKey   = "PRIVATE_KEY"
	envServiceEmail = "SERVICE_ACCOUNT_EMAIL"
	envTokenURL     = "DATASTORE_TOKEN_URL"
	envTokenCache   = "DATASTORE_TOKEN_CACHE"
	modeAPIKey      = "api_key"
	modeAccessToken = "access_token"
	modeServiceAcct = "service_account"
)

// NewFromEnv builds a Client from environment variables and returns the
// credential mode it resolved: "api_key", "access_token" or
// "service_account". Credentials are tried in that order:
//
//   - DATASTORE_API_KEY
//   - DATASTORE_ACCESS_TOKEN, as written by the token cache
//   - GOOGLE_APPLICATION_CREDENTIALS, a service account key file
//   - PRIVATE_KEY with SERVICE_ACCOUNT_EMAIL
//
// Service account modes log in immediately. A project is required: from
// WithProject, DATASTORE_PROJECT_ID or the key file, in that order.
func NewFromEnv(ctx context.Context, opts ...Option) (client *Client, mode string, err error) {
	project := env(envProjectID)
	override := resolveOptions(opts).project
	if override != "" {
		project = override
	}

	var strategy auth.Strategy
	switch {
	case env(envAPIKey) != "":
		strategy, mode = auth.APIKey(env(envAPIKey)), modeAPIKey
	case env(envAccessToken) != "":
		strategy, mode = auth.BearerToken(env(envAccessToken)), modeAccessToken
	case env(envCredentials) != "" || env(envPrivateKey) != "":
		var cfg auth.LoginConfig
		cfg, project, err = loginConfigFromEnv(project)
		if err != nil {
			return nil, "", err
		}
		var token auth.BearerToken
		if token, err = auth.Login(ctx, cfg); err != nil {
			return nil, "", err
		}
		strategy, mode = token, modeServiceAcct
	default:
		return nil, "", fmt.Errorf("datastore: no credentials: set %s, %s, %s or %s with %s",
			envAPIKey, envAccessToken, envCredentials, envPrivateKey, envServiceEmail)
	}

	if project == "" {
		return nil, "", fmt.Errorf("datastore: %s is required", envProjectID)
	}

	base := []Option{WithBaseURL(env(envAPIURL)), WithNamespace(env(envNamespace))}
	client, err = New(project, strategy, append(base, opts...)...)
	if err != nil {
		return nil, "", err
	}
	return client, mode, nil
}

func loginConfigFromEnv(project string) (auth.LoginConfig, string, error) {
	var cfg auth.LoginConfig
	if path := env(envCredentials); path != "" {
		sa, err := auth.LoadServiceAccountFile(path)
		if err != nil {
			return cfg, "", err
		}
		cfg = sa.LoginConfig()
		if project == "" {
			project = sa.ProjectID
		}
	} else {
		email := env(envServiceEmail)
		if email == "" {
			return cfg, "", fmt.Errorf("datastore: %s requires %s", envPrivateKey, envServiceEmail)
		}
		cfg = auth.LoginConfig{
			Issuer: email,
			// Keys pasted into a single-line variable carry literal "\n".
			PrivateKey: []byte(strings.ReplaceAll(os.Getenv(envPrivateKey), `\n`, "\n")),
		}
	}

	if tokenURL := env(envTokenURL); tokenURL != "" {
		cfg.TokenURL = tokenURL
	}
	if path := env(envTokenCache); path != "" {
		cache, err := auth.NewDotenvCache(path)
		if err != nil {
			return cfg, "", err
		}
		cfg.Cache = cache
	}
	return cfg, project, nil
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
