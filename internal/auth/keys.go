package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/anotherai-dev/anotherai/internal/apierr"
	"github.com/anotherai-dev/anotherai/internal/storage"
	"github.com/anotherai-dev/anotherai/pkg/models"
)

const partialKeyLen = 9

// GenerateKey mints a fresh raw API key. The raw form is returned to the
// caller exactly once; only its hash is ever stored.
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// PartialKey is the displayable stub of a raw key: its first nine
// characters followed by "****".
func PartialKey(raw string) string {
	if len(raw) < partialKeyLen {
		return raw + "****"
	}
	return raw[:partialKeyLen] + "****"
}

// CreateKey mints and persists an API key for the tenant, returning the
// stored record and the raw key.
func CreateKey(ctx context.Context, keys storage.APIKeyStore, tenantUID, name string) (*models.APIKey, string, error) {
	raw, err := GenerateKey()
	if err != nil {
		return nil, "", apierr.Internal(err, "minting api key")
	}
	key := &models.APIKey{
		ID:         models.NewID(),
		TenantUID:  tenantUID,
		Name:       name,
		PartialKey: PartialKey(raw),
		HashedKey:  HashKey(raw),
		CreatedAt:  time.Now().UTC(),
	}
	if err := keys.Create(ctx, key); err != nil {
		return nil, "", apierr.Internal(err, "storing api key")
	}
	return key, raw, nil
}
