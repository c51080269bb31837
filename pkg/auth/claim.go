package auth

import (
	"crypto/rsa"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goheros/datastore_sdk_go/pkg/apierror"
)

const (
	// DatastoreScope grants read/write access to Cloud Datastore.
	DatastoreScope = "https://www.googleapis.com/auth/datastore"

	// AssertionLifetime is the validity window of every signed assertion.
	AssertionLifetime = 60 * time.Second

	// MaxAssertionLifetime is the upper bound accepted by the token endpoint.
	MaxAssertionLifetime = time.Hour
)

// Claim is the claim set of a service-account assertion.
type Claim struct {
	Issuer   string
	Scope    string
	Audience string
	IssuedAt time.Time
	Expiry   time.Time
}

// NewClaim returns a claim issued at now that expires AssertionLifetime later.
// Scopes are joined with spaces; the audience is the default token endpoint.
func NewClaim(issuer string, scopes []string, now time.Time) Claim {
	now = now.Truncate(time.Second)
	return Claim{
		Issuer:   issuer,
		Scope:    strings.Join(scopes, " "),
		Audience: TokenURL,
		IssuedAt: now,
		Expiry:   now.Add(AssertionLifetime),
	}
}

func (c Claim) validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return apierror.New(apierror.KindSigning, http.StatusBadRequest, "claim issuer is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return apierror.New(apierror.KindSigning, http.StatusBadRequest, "claim audience is required")
	}
	lifetime := c.Expiry.Sub(c.IssuedAt)
	if lifetime <= 0 || lifetime > MaxAssertionLifetime {
		return apierror.New(apierror.KindSigning, http.StatusBadRequest,
			"claim lifetime %s outside (0, %s]", lifetime, MaxAssertionLifetime)
	}
	return nil
}

func (c Claim) mapClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   c.Issuer,
		"scope": c.Scope,
		"aud":   c.Audience,
		"iat":   c.IssuedAt.Unix(),
		"exp":   c.Expiry.Unix(),
	}
}

// ParsePrivateKey decodes a PEM encoded RSA private key in PKCS#1 or PKCS#8
// form.
func ParsePrivateKey(privateKeyPEM []byte) (*rsa.PrivateKey, error) {
	if len(privateKeyPEM) == 0 {
		return nil, apierror.New(apierror.KindKey, http.StatusBadRequest, "private key is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindKey, http.StatusBadRequest, err, "read private key: %v", err)
	}
	return key, nil
}

// SignAssertion encodes claim as a compact RS256 JWT signed with key.
func SignAssertion(claim Claim, key *rsa.PrivateKey) (string, error) {
	if key == nil {
		return "", apierror.New(apierror.KindKey, http.StatusBadRequest, "private key is nil")
	}
	if err := claim.validate(); err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claim.mapClaims())
	signed, err := token.SignedString(key)
	if err != nil {
		return "", apierror.Wrap(apierror.KindSigning, http.StatusInternalServerError, err, "create jwt-token: %v", err)
	}
	return signed, nil
}

// AssertionBuilder produces a fresh signed assertion on every Build call.
type AssertionBuilder struct {
	issuer     string
	scopes     []string
	audience   string
	privateKey *rsa.PrivateKey
	now        func() time.Time
}

// BuilderOption configures an AssertionBuilder.
type BuilderOption func(*AssertionBuilder)

// WithScopes overrides the requested scopes (default DatastoreScope).
func WithScopes(scopes ...string) BuilderOption {
	return func(b *AssertionBuilder) {
		if len(scopes) > 0 {
			b.scopes = append([]string(nil), scopes...)
		}
	}
}

// WithAudience overrides the assertion audience. It must equal the URL of
// the token endpoint the assertion is exchanged at.
func WithAudience(audience string) BuilderOption {
	return func(b *AssertionBuilder) {
		if audience != "" {
			b.audience = audience
		}
	}
}

// WithClock overrides the time source used for iat/exp (useful in tests).
func WithClock(fn func() time.Time) BuilderOption {
	return func(b *AssertionBuilder) {
		if fn != nil {
			b.now = fn
		}
	}
}

// NewAssertionBuilder parses privateKeyPEM once and returns a builder for
// assertions issued by issuer.
func NewAssertionBuilder(issuer string, privateKeyPEM []byte, opts ...BuilderOption) (*AssertionBuilder, error) {
	key, err := ParsePrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	b := &AssertionBuilder{
		issuer:     issuer,
		scopes:     []string{DatastoreScope},
		audience:   TokenURL,
		privateKey: key,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Claim returns the claim the next Build call would sign.
func (b *AssertionBuilder) Claim() Claim {
	claim := NewClaim(b.issuer, b.scopes, b.now())
	claim.Audience = b.audience
	return claim
}

// Build signs a new claim issued now.
func (b *AssertionBuilder) Build() (string, error) {
	return SignAssertion(b.Claim(), b.privateKey)
}
