package models

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// File is an attachment referenced by a message. Either Data (base64 bytes)
// or URL must be set; StorageURL points at the blob copy once materialized.
type File struct {
	ContentType string `json:"content_type,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	StorageURL  string `json:"storage_url,omitempty"`
	Format      string `json:"format,omitempty"`
}

// InvalidFileError marks a file that could not be validated or downloaded.
type InvalidFileError struct {
	URL    string
	Reason string
	Cause  error
}

func (e *InvalidFileError) Error() string {
	msg := "invalid file"
	if e.URL != "" {
		msg += " " + e.URL
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidFileError) Unwrap() error { return e.Cause }

// Validate enforces the data-or-url invariant.
func (f *File) Validate() error {
	if f.Data == "" && f.URL == "" {
		return &InvalidFileError{Reason: "file requires either data or url"}
	}
	return nil
}

// Sanitize normalizes data: URIs into Data + ContentType and infers the
// content type from the URL when missing.
func (f *File) Sanitize() error {
	if strings.HasPrefix(f.URL, "data:") {
		ct, data, err := parseDataURI(f.URL)
		if err != nil {
			return &InvalidFileError{URL: truncate(f.URL, 64), Reason: "malformed data URI", Cause: err}
		}
		f.Data = data
		if f.ContentType == "" {
			f.ContentType = ct
		}
		f.URL = ""
	}
	if f.ContentType == "" && f.URL != "" {
		f.ContentType = contentTypeFromURL(f.URL)
	}
	return f.Validate()
}

// HasData reports whether the raw bytes are locally available.
func (f *File) HasData() bool { return f.Data != "" }

// Bytes decodes the base64 payload.
func (f *File) Bytes() ([]byte, error) {
	if f.Data == "" {
		return nil, &InvalidFileError{URL: f.URL, Reason: "no data"}
	}
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		return nil, &InvalidFileError{URL: f.URL, Reason: "data is not valid base64", Cause: err}
	}
	return raw, nil
}

// Extension returns the filename extension for the content type, dot
// included, or empty when unknown.
func (f *File) Extension() string {
	switch f.ContentType {
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
	case "text/csv":
		return ".csv"
	case "audio/mpeg":
		return ".mp3"
	case "audio/wav":
		return ".wav"
	}
	if exts, err := mime.ExtensionsByType(f.ContentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// IsImage reports whether the content type is an image type.
func (f *File) IsImage() bool { return strings.HasPrefix(f.ContentType, "image/") }

// IsAudio reports whether the content type is an audio type.
func (f *File) IsAudio() bool { return strings.HasPrefix(f.ContentType, "audio/") }

// IsPDF reports whether the file is a PDF document.
func (f *File) IsPDF() bool { return f.ContentType == "application/pdf" }

// maxDownloadSize caps remote file materialization at 50MB.
const maxDownloadSize = 50 << 20

// Download fetches the remote URL and populates Data and ContentType.
// Transient failures are retried up to retries times; after exhaustion the
// error is an InvalidFileError carrying the file URL.
func (f *File) Download(ctx context.Context, client *http.Client, retries int) error {
	if f.HasData() {
		return nil
	}
	if f.URL == "" {
		return &InvalidFileError{Reason: "no url to download"}
	}
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &InvalidFileError{URL: f.URL, Reason: "download cancelled", Cause: ctx.Err()}
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if err := f.downloadOnce(ctx, client); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return &InvalidFileError{URL: f.URL, Reason: "download failed", Cause: lastErr}
}

func (f *File) downloadOnce(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return err
	}
	if len(raw) > maxDownloadSize {
		return fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	f.Data = base64.StdEncoding.EncodeToString(raw)
	if f.ContentType == "" {
		if ct := resp.Header.Get("Content-Type"); ct != "" {
			f.ContentType = strings.TrimSpace(strings.Split(ct, ";")[0])
		} else {
			f.ContentType = http.DetectContentType(raw)
		}
	}
	return nil
}

func parseDataURI(uri string) (contentType, data string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("data URI has no payload")
	}
	isBase64 := false
	for _, field := range strings.Split(meta, ";") {
		switch {
		case field == "base64":
			isBase64 = true
		case contentType == "" && field != "":
			contentType = field
		}
	}
	if !isBase64 {
		decoded, err := url.QueryUnescape(payload)
		if err != nil {
			return "", "", err
		}
		payload = base64.StdEncoding.EncodeToString([]byte(decoded))
	} else if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	return contentType, payload, nil
}

func contentTypeFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(parsed.Path)
	if ext == "" {
		// Some providers put the filename in a query parameter.
		for _, v := range parsed.Query() {
			for _, item := range v {
				if e := path.Ext(item); e != "" {
					ext = e
				}
			}
		}
	}
	if ext == "" {
		return ""
	}
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	return mime.TypeByExtension(strings.ToLower(ext))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
