package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func newTestStore(t *testing.T) *MinioStore {
	t.Helper()
	store, err := NewMinioStore(MinioConfig{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "test-access",
		SecretAccessKey: "test-secret",
		Bucket:          "attachments",
		Region:          "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewMinioStore() error = %v", err)
	}
	return store
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	if _, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestPresignPutIsOffline(t *testing.T) {
	store := newTestStore(t)
	raw, err := store.PresignPut(context.Background(), "uploads/u1/1-abc", 5*time.Minute)
	if err != nil {
		t.Fatalf("PresignPut() error = %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasSuffix(parsed.Path, "/attachments/uploads/u1/1-abc") {
		t.Fatalf("unexpected path %q", parsed.Path)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "300" {
		t.Fatalf("expected 300s expiry, got %q", got)
	}
}

func TestPresignGetSetsDisposition(t *testing.T) {
	store := newTestStore(t)
	raw, err := store.PresignGet(context.Background(), "uploads/u1/1-abc", "lecture notes.pdf", time.Minute)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if got := parsed.Query().Get("response-content-disposition"); got != `attachment; filename="lecture notes.pdf"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if got := parsed.Query().Get("X-Amz-Expires"); got != "60" {
		t.Fatalf("expected 60s expiry, got %q", got)
	}
}

func TestContentDispositionEncodesUnicode(t *testing.T) {
	got := ContentDisposition("作业.pdf")
	if !strings.HasPrefix(got, "attachment; filename*=utf-8''") {
		t.Fatalf("unexpected disposition %q", got)
	}
}

func TestIsNotFound(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey"}, want: true},
		{name: "head 404", err: minio.ErrorResponse{StatusCode: http.StatusNotFound}, want: true},
		{name: "wrapped", err: fmt.Errorf("stat: %w", minio.ErrorResponse{Code: "NotFound"}), want: true},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isNotFound(tc.err); got != tc.want {
				t.Fatalf("isNotFound() = %v, want %v", got, tc.want)
			}
		})
	}
}
