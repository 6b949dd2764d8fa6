// Package blob stores file bytes content-addressed under
// {tenant_uid}/{folder}/{sha256}{ext}.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"strings"
)

// Store persists file bytes and returns a stable URL for them.
type Store interface {
	// Put writes data under key and returns the public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get reads the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// Key builds the canonical object key for file bytes.
func Key(tenantUID, folder string, data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return path.Join(tenantUID, folder, hex.EncodeToString(sum[:])+extensionFor(contentType))
}

// extensionFor maps a content type to a file extension, preferring the
// common short forms over mime's alphabetical picks.
func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "":
		return ""
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// ErrNotFound reports a missing object.
var ErrNotFound = fmt.Errorf("blob not found")
