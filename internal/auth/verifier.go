package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// jwksRefreshInterval bounds how often the key set is re-fetched to pick
// up provider key rotation.
const jwksRefreshInterval = 15 * time.Minute

// JWTVerifier validates tokens signed by an external identity provider.
// Key material comes from a JWKS endpoint (cached, auto-refreshed) or a
// static JWK.
type JWTVerifier struct {
	jwksURL string
	cache   *jwk.Cache
	static  jwk.Set
}

// NewJWKSVerifier builds a verifier that fetches keys from the JWKS URL.
// The initial fetch runs eagerly so a bad URL fails at startup.
func NewJWKSVerifier(ctx context.Context, jwksURL string) (*JWTVerifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(jwksRefreshInterval)); err != nil {
		return nil, fmt.Errorf("register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch jwks from %s: %w", jwksURL, err)
	}
	return &JWTVerifier{jwksURL: jwksURL, cache: cache}, nil
}

// NewStaticVerifier builds a verifier from inline JWK material: either a
// single key or a full key set.
func NewStaticVerifier(jwkJSON []byte) (*JWTVerifier, error) {
	set, err := jwk.Parse(jwkJSON)
	if err != nil {
		key, keyErr := jwk.ParseKey(jwkJSON)
		if keyErr != nil {
			return nil, fmt.Errorf("parse jwk: %w", err)
		}
		set = jwk.NewSet()
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("build key set: %w", err)
		}
	}
	if set.Len() == 0 {
		return nil, fmt.Errorf("jwk material holds no keys")
	}
	return &JWTVerifier{static: set}, nil
}

type jwtClaims struct {
	OrgID   string `json:"org_id,omitempty"`
	OrgSlug string `json:"org_slug,omitempty"`
	jwt.RegisteredClaims
}

// Verify checks the token's signature and validity window and returns the
// identity claims.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	set, err := v.keySet(ctx)
	if err != nil {
		return nil, err
	}
	var claims jwtClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return verificationKey(set, t)
	}, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"}))
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &Claims{Sub: claims.Subject, OrgID: claims.OrgID, OrgSlug: claims.OrgSlug}, nil
}

func (v *JWTVerifier) keySet(ctx context.Context) (jwk.Set, error) {
	if v.static != nil {
		return v.static, nil
	}
	set, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("get jwks: %w", err)
	}
	return set, nil
}

// verificationKey picks the set key matching the token's kid, falling back
// to the only key when the token carries none.
func verificationKey(set jwk.Set, token *jwt.Token) (any, error) {
	var key jwk.Key
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		found, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no key with kid %q", kid)
		}
		key = found
	} else {
		if set.Len() != 1 {
			return nil, fmt.Errorf("token has no kid and the key set holds %d keys", set.Len())
		}
		key, _ = set.Key(0)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("materialize key: %w", err)
	}
	return raw, nil
}
