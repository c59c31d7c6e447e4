package app

import (
	"context"
	"strconv"
	"strings"

	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/rbac"
	"coursetalk/api/internal/uploads"
)

type ReserveUploadInput struct {
	Filename    string     `json:"filename" validate:"required,max=255"`
	ContentType string     `json:"contentType" validate:"max=255"`
	Size        flexibleID `json:"size" validate:"required"`
}

type FinalizeUploadInput struct {
	Key         string `json:"key" validate:"required"`
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"max=255"`
}

type RenameUploadInput struct {
	Filename string `json:"filename" validate:"required,max=255"`
}

func uploadPayload(upload uploads.Upload) map[string]any {
	return map[string]any{
		"id":          upload.ID,
		"key":         upload.Key,
		"filename":    upload.Filename,
		"size":        upload.Size,
		"contentType": upload.ContentType,
		"createdAt":   upload.CreatedAt,
	}
}

func (s *Service) ListUploads(ctx context.Context, viewer comments.Viewer) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return nil, err
	}
	listing, err := s.uploads.List(ctx, viewer.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(listing.Uploads))
	for _, upload := range listing.Uploads {
		items = append(items, uploadPayload(upload))
	}
	return map[string]any{
		"uploads":          items,
		"usedBytes":        listing.UsedBytes,
		"quotaBytes":       listing.QuotaBytes,
		"maxFileSizeBytes": listing.MaxFileSizeBytes,
	}, nil
}

func (s *Service) ReserveUpload(ctx context.Context, viewer comments.Viewer, input ReserveUploadInput) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return nil, err
	}
	input.Filename = strings.TrimSpace(input.Filename)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(string(input.Size), 10, 64)
	if err != nil || size <= 0 {
		return nil, validationError("Invalid file size", map[string]string{"size": "size must be a positive integer"})
	}

	reservation, err := s.uploads.Reserve(ctx, viewer.UserID, uploads.ReserveRequest{
		Filename:    input.Filename,
		ContentType: input.ContentType,
		Size:        size,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key":              reservation.Key,
		"url":              reservation.URL,
		"maxFileSizeBytes": reservation.MaxFileSizeBytes,
		"quotaBytes":       reservation.QuotaBytes,
		"usedBytes":        reservation.UsedBytes,
	}, nil
}

func (s *Service) FinalizeUpload(ctx context.Context, viewer comments.Viewer, input FinalizeUploadInput) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return nil, err
	}
	input.Key = strings.TrimSpace(input.Key)
	input.Filename = strings.TrimSpace(input.Filename)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	result, err := s.uploads.Finalize(ctx, viewer.UserID, uploads.FinalizeRequest{
		Key:         input.Key,
		Filename:    input.Filename,
		ContentType: input.ContentType,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"upload":     uploadPayload(result.Upload),
		"usedBytes":  result.UsedBytes,
		"quotaBytes": result.QuotaBytes,
	}, nil
}

func (s *Service) RenameUpload(ctx context.Context, viewer comments.Viewer, uploadID string, input RenameUploadInput) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return nil, err
	}
	input.Filename = strings.TrimSpace(input.Filename)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	upload, err := s.uploads.Rename(ctx, viewer.UserID, uploadID, input.Filename)
	if err != nil {
		return nil, err
	}
	return map[string]any{"upload": uploadPayload(upload)}, nil
}

func (s *Service) DeleteUpload(ctx context.Context, viewer comments.Viewer, uploadID string) (map[string]any, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return nil, err
	}
	upload, err := s.uploads.Delete(ctx, viewer.UserID, uploadID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deletedId": upload.ID, "deletedSize": upload.Size}, nil
}

// UploadDownloadURL returns a short-lived presigned URL for the owner.
func (s *Service) UploadDownloadURL(ctx context.Context, viewer comments.Viewer, uploadID string) (string, error) {
	if err := s.authorize(viewer, rbac.ActionUpload); err != nil {
		return "", err
	}
	return s.uploads.DownloadURL(ctx, viewer.UserID, uploadID)
}
