package auth

import "net/url"

// Strategy renders the query-string credential appended to every Datastore
// request. The set of strategies is closed: APIKey and BearerToken.
type Strategy interface {
	// QueryFragment returns the credential as an escaped query string,
	// "key=<key>" or "access_token=<token>".
	QueryFragment() string

	strategy()
}

// APIKey authenticates with a static API key.
type APIKey string

// QueryFragment implements Strategy.
func (k APIKey) QueryFragment() string {
	return url.Values{"key": {string(k)}}.Encode()
}

func (k APIKey) String() string { return "APIKey(REDACTED)" }

func (APIKey) strategy() {}

// BearerToken authenticates with an OAuth2 access token.
type BearerToken string

// QueryFragment implements Strategy.
func (t BearerToken) QueryFragment() string {
	return url.Values{"access_token": {string(t)}}.Encode()
}

func (t BearerToken) String() string { return "BearerToken(REDACTED)" }

func (BearerToken) strategy() {}
