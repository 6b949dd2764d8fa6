package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

type stubVerifier struct {
	claims *Claims
	err    error
}

func (s *stubVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	return s.claims, s.err
}

type keyHashRegistrar interface {
	RegisterAPIKeyHash(hashedKey string, tenant *models.Tenant)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		token  string
		ok     bool
	}{
		{name: "empty", header: "", ok: false},
		{name: "no scheme", header: "aai-abc", ok: false},
		{name: "standard", header: "Bearer aai-abc", token: "aai-abc", ok: true},
		{name: "lowercase scheme", header: "bearer tok", token: "tok", ok: true},
		{name: "scheme only", header: "Bearer ", ok: false},
		{name: "padded", header: "  Bearer tok  ", token: "tok", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, ok := bearerToken(tt.header)
			if ok != tt.ok || token != tt.token {
				t.Fatalf("bearerToken(%q) = %q, %v", tt.header, token, ok)
			}
		})
	}
}

func TestFindTenantAnonymous(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()

	open := NewAuthenticator(stores.Tenants, nil, true)
	tenant, err := open.FindTenant(ctx, "")
	if err != nil {
		t.Fatalf("FindTenant: %v", err)
	}
	again, err := open.FindTenant(ctx, "")
	if err != nil || again.UID != tenant.UID {
		t.Fatalf("anonymous tenant not stable: %v %v", again, err)
	}

	closed := NewAuthenticator(stores.Tenants, nil, false)
	_, err = closed.FindTenant(ctx, "")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Status() != 401 {
		t.Fatalf("missing header err = %v", err)
	}
}

func TestFindTenantAPIKey(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()
	owner, _ := stores.Tenants.GetOrCreateByOwner(ctx, "user_1")

	key, raw, err := CreateKey(ctx, stores.APIKeys, owner.UID, "ci key")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	stores.Tenants.(keyHashRegistrar).RegisterAPIKeyHash(key.HashedKey, owner)

	authenticator := NewAuthenticator(stores.Tenants, nil, false)
	tenant, err := authenticator.FindTenant(ctx, "Bearer "+raw)
	if err != nil {
		t.Fatalf("FindTenant: %v", err)
	}
	if tenant.UID != owner.UID {
		t.Fatalf("tenant = %q, want %q", tenant.UID, owner.UID)
	}

	_, err = authenticator.FindTenant(ctx, "Bearer aai-unknown")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Message != "Invalid API key" {
		t.Fatalf("unknown key err = %v", err)
	}
}

func TestFindTenantJWT(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()

	org := NewAuthenticator(stores.Tenants, &stubVerifier{
		claims: &Claims{Sub: "user_1", OrgID: "org_1", OrgSlug: "acme"},
	}, false)
	tenant, err := org.FindTenant(ctx, "Bearer some.jwt.token")
	if err != nil {
		t.Fatalf("FindTenant: %v", err)
	}
	if tenant.OrgID != "org_1" || tenant.OrgSlug != "acme" {
		t.Fatalf("tenant = %+v", tenant)
	}

	owner := NewAuthenticator(stores.Tenants, &stubVerifier{claims: &Claims{Sub: "user_2"}}, false)
	tenant, err = owner.FindTenant(ctx, "Bearer some.jwt.token")
	if err != nil {
		t.Fatalf("FindTenant: %v", err)
	}
	if tenant.OwnerID != "user_2" {
		t.Fatalf("tenant = %+v", tenant)
	}

	bad := NewAuthenticator(stores.Tenants, &stubVerifier{err: errors.New("expired")}, false)
	_, err = bad.FindTenant(ctx, "Bearer some.jwt.token")
	if apiErr, ok := apierr.As(err); !ok || apiErr.Status() != 401 {
		t.Fatalf("invalid token err = %v", err)
	}

	empty := NewAuthenticator(stores.Tenants, &stubVerifier{claims: &Claims{}}, false)
	_, err = empty.FindTenant(ctx, "Bearer some.jwt.token")
	if apiErr, ok := apierr.As(err); !ok || apiErr.Status() != 401 {
		t.Fatalf("subject-less token err = %v", err)
	}

	unconfigured := NewAuthenticator(stores.Tenants, nil, false)
	_, err = unconfigured.FindTenant(ctx, "Bearer some.jwt.token")
	if apiErr, ok := apierr.As(err); !ok || apiErr.Status() != 401 {
		t.Fatalf("unconfigured verifier err = %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	raw, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if !strings.HasPrefix(raw, "aai-") {
		t.Fatalf("raw = %q", raw)
	}
	other, _ := GenerateKey()
	if raw == other {
		t.Fatal("two generated keys collided")
	}
}

func TestPartialKey(t *testing.T) {
	if got := PartialKey("aai-1234567890"); got != "aai-12345****" {
		t.Fatalf("PartialKey = %q", got)
	}
	if got := PartialKey("aai"); got != "aai****" {
		t.Fatalf("short PartialKey = %q", got)
	}
}

func TestHashKey(t *testing.T) {
	hash := HashKey("aai-test")
	if len(hash) != 64 || hash != HashKey("aai-test") {
		t.Fatalf("hash = %q", hash)
	}
	if hash == HashKey("aai-other") {
		t.Fatal("different keys share a hash")
	}
}

func TestCreateKey(t *testing.T) {
	ctx := context.Background()
	stores := storage.NewMemoryStores()

	key, raw, err := CreateKey(ctx, stores.APIKeys, "tenant-1", "prod")
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if key.HashedKey != HashKey(raw) {
		t.Fatal("stored hash does not match the raw key")
	}
	if key.PartialKey != raw[:9]+"****" {
		t.Fatalf("partial = %q", key.PartialKey)
	}
	if key.Name != "prod" || key.TenantUID != "tenant-1" {
		t.Fatalf("key = %+v", key)
	}

	listed, err := stores.APIKeys.List(ctx, "tenant-1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("List: %v %v", listed, err)
	}
}
