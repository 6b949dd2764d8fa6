package blob

import (
	"context"
	"strings"
	"testing"
)

func TestKey(t *testing.T) {
	key := Key("tenant-1", "completions", []byte("hello"), "image/png")
	if !strings.HasPrefix(key, "tenant-1/completions/") {
		t.Fatalf("key = %q", key)
	}
	if !strings.HasSuffix(key, ".png") {
		t.Fatalf("key = %q, want .png suffix", key)
	}
	// sha256("hello")
	if !strings.Contains(key, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824") {
		t.Fatalf("key %q does not embed the content hash", key)
	}

	if got := Key("t", "f", []byte("x"), ""); strings.Contains(got, ".") {
		t.Fatalf("key %q has an extension without a content type", got)
	}
	if got := Key("t", "f", []byte("x"), "application/pdf"); !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("key = %q", got)
	}
}

func TestKeyDeterminism(t *testing.T) {
	a := Key("t", "f", []byte("same"), "image/jpeg")
	b := Key("t", "f", []byte("same"), "image/jpeg")
	if a != b {
		t.Fatalf("identical content produced different keys: %q vs %q", a, b)
	}
	if a == Key("t", "f", []byte("other"), "image/jpeg") {
		t.Fatal("different content produced the same key")
	}
}

func TestParseS3DSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		want    S3Config
		wantErr bool
	}{
		{
			name: "bucket shorthand",
			dsn:  "s3://my-bucket?region=eu-west-1",
			want: S3Config{Bucket: "my-bucket", Region: "eu-west-1"},
		},
		{
			name: "custom endpoint with credentials",
			dsn:  "s3://key:secret@minio.local:9000/files?path_style=true&insecure=true",
			want: S3Config{
				Bucket: "files", Region: "us-east-1",
				Endpoint:    "http://minio.local:9000",
				AccessKeyID: "key", SecretAccessKey: "secret",
				UsePathStyle: true,
			},
		},
		{name: "wrong scheme", dsn: "azblob://container", wantErr: true},
		{name: "no bucket", dsn: "s3://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseS3DSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsed %q without error: %+v", tt.dsn, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseS3DSN: %v", err)
			}
			if got.Bucket != tt.want.Bucket || got.Region != tt.want.Region ||
				got.Endpoint != tt.want.Endpoint || got.AccessKeyID != tt.want.AccessKeyID ||
				got.SecretAccessKey != tt.want.SecretAccessKey || got.UsePathStyle != tt.want.UsePathStyle {
				t.Fatalf("config = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	url, err := store.Put(ctx, "t/f/abc.png", []byte("bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "memory://t/f/abc.png" {
		t.Fatalf("url = %q", url)
	}

	data, contentType, err := store.Get(ctx, "t/f/abc.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "bytes" || contentType != "image/png" {
		t.Fatalf("got %q %q", data, contentType)
	}

	if _, _, err := store.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
