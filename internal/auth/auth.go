// Package auth resolves the tenant behind each request: API keys, signed
// JWTs, or the anonymous tenant when unauthenticated access is enabled.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

// apiKeyPrefix marks gateway API keys; anything else in a bearer token is
// treated as a JWT.
const apiKeyPrefix = "aai-"

// TokenVerifier checks a JWT and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Claims is the identity carried by a verified JWT.
type Claims struct {
	Sub     string `json:"sub"`
	OrgID   string `json:"org_id,omitempty"`
	OrgSlug string `json:"org_slug,omitempty"`
}

// Authenticator maps authorization headers to tenants.
type Authenticator struct {
	tenants         storage.TenantStore
	verifier        TokenVerifier
	noTenantAllowed bool
}

// NewAuthenticator builds an authenticator. verifier may be nil when JWT
// auth is not configured; noTenantAllowed admits unauthenticated requests
// under the anonymous tenant.
func NewAuthenticator(tenants storage.TenantStore, verifier TokenVerifier, noTenantAllowed bool) *Authenticator {
	return &Authenticator{tenants: tenants, verifier: verifier, noTenantAllowed: noTenantAllowed}
}

// FindTenant resolves the Authorization header to a tenant.
func (a *Authenticator) FindTenant(ctx context.Context, authorization string) (*models.Tenant, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		if a.noTenantAllowed {
			tenant, err := a.tenants.GetOrCreateAnonymous(ctx)
			if err != nil {
				return nil, apierr.Internal(err, "resolving anonymous tenant")
			}
			return tenant, nil
		}
		return nil, apierr.InvalidToken("Missing authorization header")
	}

	if strings.HasPrefix(token, apiKeyPrefix) {
		tenant, err := a.tenants.ByAPIKeyHash(ctx, HashKey(token))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, apierr.InvalidToken("Invalid API key")
			}
			return nil, apierr.Internal(err, "resolving api key")
		}
		return tenant, nil
	}

	if a.verifier == nil {
		return nil, apierr.InvalidToken("Token authentication is not configured")
	}
	claims, err := a.verifier.Verify(ctx, token)
	if err != nil {
		return nil, apierr.InvalidToken("Invalid token")
	}
	return a.tenantForClaims(ctx, claims)
}

func (a *Authenticator) tenantForClaims(ctx context.Context, claims *Claims) (*models.Tenant, error) {
	if claims.OrgID != "" {
		tenant, err := a.tenants.GetOrCreateByOrg(ctx, claims.OrgID, claims.OrgSlug)
		if err != nil {
			return nil, apierr.Internal(err, "resolving org tenant")
		}
		return tenant, nil
	}
	if claims.Sub == "" {
		return nil, apierr.InvalidToken("Token carries no subject")
	}
	tenant, err := a.tenants.GetOrCreateByOwner(ctx, claims.Sub)
	if err != nil {
		return nil, apierr.Internal(err, "resolving owner tenant")
	}
	return tenant, nil
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(authorization string) (string, bool) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(authorization, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HashKey returns the stored form of an API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
