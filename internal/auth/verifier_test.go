package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

func newSigningKey(t *testing.T, kid string) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := jwk.FromRaw(priv.Public())
	if err != nil {
		t.Fatalf("jwk from public key: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, "ES256"); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	raw, err := json.Marshal(pub)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	return priv, raw
}

func signToken(t *testing.T, priv *ecdsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestStaticVerifier(t *testing.T) {
	ctx := context.Background()
	priv, jwkJSON := newSigningKey(t, "k1")
	verifier, err := NewStaticVerifier(jwkJSON)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}

	token := signToken(t, priv, "k1", jwt.MapClaims{
		"sub":      "user_1",
		"org_id":   "org_1",
		"org_slug": "acme",
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != "user_1" || claims.OrgID != "org_1" || claims.OrgSlug != "acme" {
		t.Fatalf("claims = %+v", claims)
	}

	// Tokens without a kid verify against a single-key set.
	noKid := signToken(t, priv, "", jwt.MapClaims{"sub": "user_2"})
	claims, err = verifier.Verify(ctx, noKid)
	if err != nil || claims.Sub != "user_2" {
		t.Fatalf("no-kid verify: %+v %v", claims, err)
	}
}

func TestStaticVerifierRejections(t *testing.T) {
	ctx := context.Background()
	priv, jwkJSON := newSigningKey(t, "k1")
	verifier, err := NewStaticVerifier(jwkJSON)
	if err != nil {
		t.Fatalf("NewStaticVerifier: %v", err)
	}

	expired := signToken(t, priv, "k1", jwt.MapClaims{
		"sub": "user_1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := verifier.Verify(ctx, expired); err == nil {
		t.Fatal("verified an expired token")
	}

	otherPriv, _ := newSigningKey(t, "k1")
	forged := signToken(t, otherPriv, "k1", jwt.MapClaims{"sub": "user_1"})
	if _, err := verifier.Verify(ctx, forged); err == nil {
		t.Fatal("verified a token signed with a different key")
	}

	wrongKid := signToken(t, priv, "k9", jwt.MapClaims{"sub": "user_1"})
	if _, err := verifier.Verify(ctx, wrongKid); err == nil {
		t.Fatal("verified a token with an unknown kid")
	}

	if _, err := verifier.Verify(ctx, "not.a.token"); err == nil {
		t.Fatal("verified garbage")
	}
}

func TestNewStaticVerifierBadMaterial(t *testing.T) {
	if _, err := NewStaticVerifier([]byte("{")); err == nil {
		t.Fatal("accepted malformed jwk material")
	}
	if _, err := NewStaticVerifier([]byte(`{"keys":[]}`)); err == nil {
		t.Fatal("accepted an empty key set")
	}
}
