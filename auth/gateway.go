// Package auth issues and validates the bearer tokens guarding the HTTP
// surface. Tokens are HS256 JWTs carrying a subject and a scope list;
// revocation is by token ID (the jti claim) against a pluggable
// revocation set, so a leaked token can be killed before it expires.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/syncline/syncline"
	"github.com/syncline/syncline/id"
)

// Scopes understood by the API surface.
const (
	// ScopeJobsRead allows listing jobs and reading run status.
	ScopeJobsRead = "jobs:read"
	// ScopeJobsRun allows triggering runs and replaying dead letters.
	ScopeJobsRun = "jobs:run"
	// ScopeAll grants every scope.
	ScopeAll = "*"
)

// DefaultTokenExpiry is the token lifetime when none is configured.
const DefaultTokenExpiry = 1 * time.Hour

// Claims is the JWT payload: registered claims plus the scope list.
// The token ID lives in the registered jti claim.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes,omitempty"`
}

// Identity is the validated caller of an API request.
type Identity struct {
	Subject   string
	TokenID   id.TokenID
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the identity carries the given scope, either
// literally or via the "*" wildcard.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope || s == ScopeAll {
			return true
		}
	}
	return false
}

// IssuedToken is the result of issuing a token: the signed compact form
// plus the metadata needed to revoke it later.
type IssuedToken struct {
	Raw       string
	ID        id.TokenID
	ExpiresAt time.Time
}

// RevocationSet tracks killed token IDs until their tokens would have
// expired anyway. Implementations: Memory (single process) and Redis
// (shared across instances).
type RevocationSet interface {
	// Revoke marks a token ID revoked for ttl. A non-positive ttl is a
	// no-op: the token is already expired.
	Revoke(ctx context.Context, tokenID id.TokenID, ttl time.Duration) error

	// IsRevoked reports whether a token ID has been revoked.
	IsRevoked(ctx context.Context, tokenID id.TokenID) (bool, error)
}

// Gateway issues and validates API tokens.
type Gateway struct {
	secret  []byte
	expiry  time.Duration
	issuer  string
	revoked RevocationSet
	now     func() time.Time
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithTokenExpiry sets the issued token lifetime.
func WithTokenExpiry(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.expiry = d }
}

// WithIssuer sets the iss claim on issued tokens.
func WithIssuer(iss string) GatewayOption {
	return func(g *Gateway) { g.issuer = iss }
}

// WithRevocationSet sets the revocation backend. Without one, Revoke
// fails and Validate never reports tokens revoked.
func WithRevocationSet(r RevocationSet) GatewayOption {
	return func(g *Gateway) { g.revoked = r }
}

// withClock overrides the wall clock. Test-only.
func withClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a Gateway signing with the given HS256 secret.
func NewGateway(secret []byte, opts ...GatewayOption) (*Gateway, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	g := &Gateway{
		secret: secret,
		expiry: DefaultTokenExpiry,
		issuer: "syncline",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Issue signs a token for subject with the given scopes.
func (g *Gateway) Issue(subject string, scopes ...string) (*IssuedToken, error) {
	now := g.now().UTC()
	tokenID := id.NewTokenID()
	expiresAt := now.Add(g.expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   subject,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, syncline.E(syncline.KindInternal, "auth.issue", err)
	}
	return &IssuedToken{Raw: raw, ID: tokenID, ExpiresAt: expiresAt}, nil
}

// Validate parses and verifies a compact token and checks it against the
// revocation set. Failures carry KindTokenExpired, KindTokenSignature,
// or KindTokenRevoked so the API layer can map them to status codes.
func (g *Gateway) Validate(ctx context.Context, raw string) (*Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, g.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, syncline.E(syncline.KindTokenExpired, "auth.validate", err)
		}
		return nil, syncline.E(syncline.KindTokenSignature, "auth.validate", err)
	}

	tokenID, err := id.ParseTokenID(claims.ID)
	if err != nil {
		return nil, syncline.E(syncline.KindTokenSignature, "auth.validate", err)
	}

	if g.revoked != nil {
		revoked, err := g.revoked.IsRevoked(ctx, tokenID)
		if err != nil {
			return nil, syncline.E(syncline.KindConnection, "auth.validate", err)
		}
		if revoked {
			return nil, syncline.Ef(syncline.KindTokenRevoked, "auth.validate",
				"token %s revoked", tokenID)
		}
	}

	ident := &Identity{
		Subject: claims.Subject,
		TokenID: tokenID,
		Scopes:  claims.Scopes,
	}
	if claims.ExpiresAt != nil {
		ident.ExpiresAt = claims.ExpiresAt.Time
	}
	return ident, nil
}

// Revoke kills a validated token for the remainder of its lifetime.
func (g *Gateway) Revoke(ctx context.Context, ident *Identity) error {
	if g.revoked == nil {
		return errors.New("auth: no revocation set configured")
	}
	ttl := ident.ExpiresAt.Sub(g.now())
	return g.revoked.Revoke(ctx, ident.TokenID, ttl)
}

func (g *Gateway) keyFunc(_ *jwt.Token) (any, error) {
	return g.secret, nil
}
