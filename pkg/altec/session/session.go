// Package session implements ALTEC's Session Keep-Alive (C6): it inspects
// the credential a polling client presents and, when the Task's policy
// calls for proactive refresh, mints a new short-lived credential before
// the old one expires (spec.md §4.6).
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/oauth2"
)

// Credential is the refreshed token surfaced on a poll response.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Refresher decides whether an incoming credential needs refreshing and,
// if so, mints a replacement.
type Refresher interface {
	// RefreshIfNeeded inspects token's expiry against refreshInterval
	// (spec.md §4.6: refresh when the token expires within two refresh
	// intervals) and returns a new Credential if warranted.
	RefreshIfNeeded(token string, refreshInterval time.Duration, now time.Time) (Credential, bool)
}

// JWTRefresher mints HS256-signed JWTs. Every RefreshIfNeeded call that
// decides to refresh signs a new token; only the oauth2.TokenSource
// returned by TokenSource caches a minted token until it expires.
type JWTRefresher struct {
	key      jwk.Key
	issuer   string
	audience string
	lifetime time.Duration
	sources  map[string]oauth2.TokenSource
}

// NewJWTRefresher builds a Refresher signing with the given HMAC secret.
// lifetime is how long each minted credential is valid for.
func NewJWTRefresher(secret []byte, issuer, audience string, lifetime time.Duration) (*JWTRefresher, error) {
	key, err := jwk.Import(secret)
	if err != nil {
		return nil, fmt.Errorf("import refresh signing key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.HS256()); err != nil {
		return nil, fmt.Errorf("set signing algorithm: %w", err)
	}
	return &JWTRefresher{
		key:      key,
		issuer:   issuer,
		audience: audience,
		lifetime: lifetime,
		sources:  make(map[string]oauth2.TokenSource),
	}, nil
}

// RefreshIfNeeded implements Refresher.
func (r *JWTRefresher) RefreshIfNeeded(token string, refreshInterval time.Duration, now time.Time) (Credential, bool) {
	exp, err := r.expiry(token)
	if err != nil {
		// An unparseable or already-expired token is refreshed
		// unconditionally; the caller is mid-poll on a live Task and
		// losing the session is worse than over-refreshing.
		return r.mint(now)
	}
	if exp.Sub(now) > 2*refreshInterval {
		return Credential{}, false
	}
	return r.mint(now)
}

func (r *JWTRefresher) expiry(token string) (time.Time, error) {
	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), r.key), jwt.WithValidate(false))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse credential: %w", err)
	}
	exp, ok := parsed.Expiration()
	if !ok {
		return time.Time{}, fmt.Errorf("credential has no expiry claim")
	}
	return exp, nil
}

func (r *JWTRefresher) mint(now time.Time) (Credential, bool) {
	expiresAt := now.Add(r.lifetime)
	builder := jwt.NewBuilder().
		Issuer(r.issuer).
		Audience([]string{r.audience}).
		IssuedAt(now).
		Expiration(expiresAt)

	token, err := builder.Build()
	if err != nil {
		return Credential{}, false
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), r.key))
	if err != nil {
		return Credential{}, false
	}
	return Credential{Token: string(signed), ExpiresAt: expiresAt}, true
}

// mintingSource calls back into a JWTRefresher on every Token() miss.
type mintingSource struct {
	refresher *JWTRefresher
	now       func() time.Time
}

func (s mintingSource) Token() (*oauth2.Token, error) {
	cred, ok := s.refresher.mint(s.now())
	if !ok {
		return nil, fmt.Errorf("mint refresh credential")
	}
	return &oauth2.Token{
		AccessToken: cred.Token,
		Expiry:      cred.ExpiresAt,
		TokenType:   "Bearer",
	}, nil
}

// TokenSource adapts a minted Credential into an oauth2.TokenSource, so a
// long-poll HTTP client built against golang.org/x/oauth2 can consume
// ALTEC's refreshed credentials through the same Transport wiring it uses
// for every other outbound call.
func (r *JWTRefresher) TokenSource(ctx context.Context, now time.Time) oauth2.TokenSource {
	return oauth2.ReuseTokenSourceWithExpiry(nil, mintingSource{refresher: r, now: func() time.Time { return now }}, 0)
}
