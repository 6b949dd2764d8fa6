package models

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFileSanitizeDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	f := File{URL: "data:image/png;base64," + payload}
	if err := f.Sanitize(); err != nil {
		t.Fatalf("Sanitize() error: %v", err)
	}
	if f.URL != "" {
		t.Fatalf("data URI should be cleared, got %q", f.URL)
	}
	if f.Data != payload {
		t.Fatalf("Data = %q, want %q", f.Data, payload)
	}
	if f.ContentType != "image/png" {
		t.Fatalf("ContentType = %q", f.ContentType)
	}
}

func TestFileSanitizeInfersContentType(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/photo.jpg", "image/jpeg"},
		{"https://example.com/doc.pdf", "application/pdf"},
		{"https://example.com/get?file=sound.mp3", "audio/mpeg"},
		{"https://example.com/noext", ""},
	}
	for _, tt := range tests {
		f := File{URL: tt.url}
		if err := f.Sanitize(); err != nil {
			t.Fatalf("Sanitize(%q) error: %v", tt.url, err)
		}
		if f.ContentType != tt.want {
			t.Errorf("Sanitize(%q) content type = %q, want %q", tt.url, f.ContentType, tt.want)
		}
	}
}

func TestFileSanitizeRequiresDataOrURL(t *testing.T) {
	f := File{}
	if err := f.Sanitize(); err == nil {
		t.Fatal("expected error for empty file")
	}
	var invalid *InvalidFileError
	if !errors.As(f.Sanitize(), &invalid) {
		t.Fatal("expected InvalidFileError")
	}
}

func TestFileDownload(t *testing.T) {
	body := []byte("file-content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f := File{URL: srv.URL + "/file"}
	if err := f.Download(context.Background(), srv.Client(), 2); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if f.Data != base64.StdEncoding.EncodeToString(body) {
		t.Fatalf("unexpected data %q", f.Data)
	}
	if f.ContentType != "text/plain" {
		t.Fatalf("ContentType = %q", f.ContentType)
	}
}

func TestFileDownloadRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := File{URL: srv.URL + "/broken"}
	err := f.Download(context.Background(), srv.Client(), 2)
	if err == nil {
		t.Fatal("expected error")
	}
	var invalid *InvalidFileError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidFileError, got %T", err)
	}
	if invalid.URL != f.URL {
		t.Fatalf("error URL = %q, want %q", invalid.URL, f.URL)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestFileDownloadSkipsWhenDataPresent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	f := File{URL: srv.URL, Data: "YWJj"}
	if err := f.Download(context.Background(), srv.Client(), 1); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("download should not hit the network when data is present")
	}
}
