// Package uploads implements per-user upload quotas on top of presigned
// object storage URLs.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxFileSizeBytes int64 = 50 * 1024 * 1024
	DefaultQuotaMB                = 1024
	ReservationTTL                = 300 * time.Second
	DownloadURLTTL                = 60 * time.Second
	DefaultContentType            = "application/octet-stream"
)

type Limits struct {
	MaxFileSizeBytes int64
	QuotaBytes       int64
	ReservationTTL   time.Duration
	DownloadTTL      time.Duration
}

// NewLimits converts megabyte settings, falling back to defaults for
// non-positive values.
func NewLimits(quotaMB, maxFileSizeMB int) Limits {
	if quotaMB <= 0 {
		quotaMB = DefaultQuotaMB
	}
	maxBytes := DefaultMaxFileSizeBytes
	if maxFileSizeMB > 0 {
		maxBytes = int64(maxFileSizeMB) * 1024 * 1024
	}
	return Limits{
		MaxFileSizeBytes: maxBytes,
		QuotaBytes:       int64(quotaMB) * 1024 * 1024,
		ReservationTTL:   ReservationTTL,
		DownloadTTL:      DownloadURLTTL,
	}
}

type Upload struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType,omitempty"`
	UserID      string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Pending is an outstanding reservation for a presigned PUT.
type Pending struct {
	Key         string
	UserID      string
	Filename    string
	ContentType string
	Size        int64
	ExpiresAt   time.Time
}

var (
	ErrQuotaExceeded = errors.New("upload quota exceeded")
	ErrFileTooLarge  = errors.New("file too large")
	ErrUploadExpired = errors.New("upload session expired")
	ErrUploadMissing = errors.New("uploaded object missing")
	ErrForbiddenKey  = errors.New("upload key outside caller prefix")
	ErrNotFound      = errors.New("upload not found")
)

// QuotaError reports the usage that caused a quota rejection.
type QuotaError struct {
	UsedBytes      int64
	RequestedBytes int64
	QuotaBytes     int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("upload quota exceeded: used %d + requested %d > quota %d", e.UsedBytes, e.RequestedBytes, e.QuotaBytes)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// SizeError reports an object larger than the per-file limit.
type SizeError struct {
	Size             int64
	MaxFileSizeBytes int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("file too large: %d > %d", e.Size, e.MaxFileSizeBytes)
}

func (e *SizeError) Is(target error) bool {
	return target == ErrFileTooLarge
}

// InputError is a malformed request field.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// Tx is the storage a single serializable attempt may touch.
type Tx interface {
	// UsageBytes sums committed uploads and unexpired reservations of userID,
	// ignoring the reservation under excludeKey when set.
	UsageBytes(ctx context.Context, userID string, now time.Time, excludeKey string) (int64, error)
	InsertPending(ctx context.Context, pending Pending) error
	GetPending(ctx context.Context, key string) (Pending, bool, error)
	DeletePending(ctx context.Context, key string) error
	InsertUpload(ctx context.Context, upload Upload) error
	UploadByKey(ctx context.Context, key string) (Upload, bool, error)
}

// Repository persists uploads and reservations.
type Repository interface {
	// Serializable runs fn in a SERIALIZABLE transaction, re-running it on
	// serialization failures. A nil return from fn commits.
	Serializable(ctx context.Context, fn func(context.Context, Tx) error) error
	DeleteExpiredPending(ctx context.Context, userID string, now time.Time) (int64, error)
	DeletePending(ctx context.Context, key string) error
	UsageBytes(ctx context.Context, userID string, now time.Time) (int64, error)
	FindUploadByKey(ctx context.Context, key string) (Upload, bool, error)
	GetUpload(ctx context.Context, id string) (Upload, error)
	ListUploads(ctx context.Context, userID string) ([]Upload, error)
	RenameUpload(ctx context.Context, id, filename string) (Upload, error)
	DeleteUpload(ctx context.Context, id string) error
	// ListExpiredPending returns expired reservations across all users.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]Pending, error)
}

func normalizeContentType(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return DefaultContentType
}

func userPrefix(userID string) string {
	return "uploads/" + userID + "/"
}
