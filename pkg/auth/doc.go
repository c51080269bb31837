// Package auth obtains credentials for the Cloud Datastore REST API.
//
// Two strategies are supported. APIKey sends a static key as the "key"
// query parameter. BearerToken sends an OAuth2 access token as the
// "access_token" query parameter; it is obtained by signing a short-lived
// RS256 assertion with a service account's private key and exchanging it at
// the Google token endpoint:
//
//	builder, err := auth.NewAssertionBuilder(sa.ClientEmail, []byte(sa.PrivateKey))
//	assertion, err := builder.Build()
//	token, err := exchanger.Exchange(ctx, assertion)
//	strategy := auth.BearerToken(token.AccessToken)
//
// Login performs the same sequence in one call. Access tokens are not
// refreshed automatically; callers log in again when a request fails with
// an authentication error (see apierror.IsUnauthenticated).
package auth
