package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"coursetalk/api/internal/blob"
)

type Service struct {
	repo   Repository
	blobs  blob.Store
	limits Limits
	log    logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

func NewService(repo Repository, blobs blob.Store, limits Limits, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		repo:   repo,
		blobs:  blobs,
		limits: limits,
		log:    logger.WithField("component", "uploads"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (s *Service) Limits() Limits {
	return s.limits
}

type ReserveRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Reservation struct {
	Key              string `json:"key"`
	URL              string `json:"url"`
	MaxFileSizeBytes int64  `json:"maxFileSizeBytes"`
	QuotaBytes       int64  `json:"quotaBytes"`
	UsedBytes        int64  `json:"usedBytes"`
}

// Reserve admits a new upload against the caller's quota and returns a
// presigned PUT URL. UsedBytes is the usage before this reservation.
func (s *Service) Reserve(ctx context.Context, userID string, req ReserveRequest) (Reservation, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		return Reservation{}, &InputError{Message: "filename is required"}
	}
	if req.Size <= 0 {
		return Reservation{}, &InputError{Message: "size must be greater than zero"}
	}
	if req.Size > s.limits.MaxFileSizeBytes {
		return Reservation{}, &SizeError{Size: req.Size, MaxFileSizeBytes: s.limits.MaxFileSizeBytes}
	}

	now := s.now()
	if _, err := s.repo.DeleteExpiredPending(ctx, userID, now); err != nil {
		return Reservation{}, fmt.Errorf("sweep expired reservations: %w", err)
	}

	pending := Pending{
		Key:         fmt.Sprintf("%s%d-%s", userPrefix(userID), now.UnixMilli(), s.newID()),
		UserID:      userID,
		Filename:    filename,
		ContentType: strings.TrimSpace(req.ContentType),
		Size:        req.Size,
		ExpiresAt:   now.Add(s.limits.ReservationTTL),
	}

	var used int64
	err := s.repo.Serializable(ctx, func(ctx context.Context, tx Tx) error {
		current, err := tx.UsageBytes(ctx, userID, now, "")
		if err != nil {
			return err
		}
		if current+pending.Size > s.limits.QuotaBytes {
			return &QuotaError{UsedBytes: current, RequestedBytes: pending.Size, QuotaBytes: s.limits.QuotaBytes}
		}
		used = current
		return tx.InsertPending(ctx, pending)
	})
	if err != nil {
		return Reservation{}, err
	}

	url, err := s.blobs.PresignPut(ctx, pending.Key, s.limits.ReservationTTL)
	if err != nil {
		s.discardPending(ctx, pending.Key)
		return Reservation{}, fmt.Errorf("presign upload: %w", err)
	}

	return Reservation{
		Key:              pending.Key,
		URL:              url,
		MaxFileSizeBytes: s.limits.MaxFileSizeBytes,
		QuotaBytes:       s.limits.QuotaBytes,
		UsedBytes:        used,
	}, nil
}

type FinalizeRequest struct {
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type FinalizeResult struct {
	Upload     Upload `json:"upload"`
	UsedBytes  int64  `json:"usedBytes"`
	QuotaBytes int64  `json:"quotaBytes"`
}

type finalizeOutcome int

const (
	outcomeCommitted finalizeOutcome = iota
	outcomeAlreadyCommitted
	outcomeExpired
	outcomeOverQuota
)

// Finalize converts a reservation into a committed upload once the object is
// present in storage. Finalizing a committed key again returns the existing
// upload.
func (s *Service) Finalize(ctx context.Context, userID string, req FinalizeRequest) (FinalizeResult, error) {
	key := strings.TrimSpace(req.Key)
	filename := strings.TrimSpace(req.Filename)
	if key == "" || filename == "" {
		return FinalizeResult{}, &InputError{Message: "Missing upload data"}
	}
	if !strings.HasPrefix(key, userPrefix(userID)) {
		return FinalizeResult{}, ErrForbiddenKey
	}

	now := s.now()
	if _, err := s.repo.DeleteExpiredPending(ctx, userID, now); err != nil {
		return FinalizeResult{}, fmt.Errorf("sweep expired reservations: %w", err)
	}

	existing, found, err := s.repo.FindUploadByKey(ctx, key)
	if err != nil {
		return FinalizeResult{}, err
	}
	if found {
		return s.alreadyCommitted(ctx, userID, existing, now)
	}

	info, err := s.blobs.Stat(ctx, key)
	if errors.Is(err, blob.ErrNotFound) || (err == nil && info.Size <= 0) {
		s.discardPending(ctx, key)
		return FinalizeResult{}, ErrUploadMissing
	}
	if err != nil {
		return FinalizeResult{}, err
	}
	if info.Size > s.limits.MaxFileSizeBytes {
		s.removeBlob(ctx, key)
		s.discardPending(ctx, key)
		return FinalizeResult{}, &SizeError{Size: info.Size, MaxFileSizeBytes: s.limits.MaxFileSizeBytes}
	}

	upload := Upload{
		ID:        s.newID(),
		Key:       key,
		Filename:  filename,
		Size:      info.Size,
		UserID:    userID,
		CreatedAt: now,
	}

	// Rejections are recorded in outcome and the transaction still commits so
	// that deleting the reservation is durable.
	var (
		outcome finalizeOutcome
		used    int64
	)
	err = s.repo.Serializable(ctx, func(ctx context.Context, tx Tx) error {
		outcome, used = outcomeCommitted, 0

		pending, ok, err := tx.GetPending(ctx, key)
		if err != nil {
			return err
		}
		if !ok || pending.UserID != userID {
			if _, committed, err := tx.UploadByKey(ctx, key); err != nil {
				return err
			} else if committed {
				outcome = outcomeAlreadyCommitted
				return nil
			}
			outcome = outcomeExpired
			return nil
		}
		if !pending.ExpiresAt.After(now) {
			outcome = outcomeExpired
			return tx.DeletePending(ctx, key)
		}

		current, err := tx.UsageBytes(ctx, userID, now, key)
		if err != nil {
			return err
		}
		if current+upload.Size > s.limits.QuotaBytes {
			outcome, used = outcomeOverQuota, current
			return tx.DeletePending(ctx, key)
		}

		upload.ContentType = normalizeContentType(req.ContentType, info.ContentType, pending.ContentType)
		if err := tx.InsertUpload(ctx, upload); err != nil {
			return err
		}
		if err := tx.DeletePending(ctx, key); err != nil {
			return err
		}
		used = current + upload.Size
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}

	switch outcome {
	case outcomeAlreadyCommitted:
		existing, found, err := s.repo.FindUploadByKey(ctx, key)
		if err != nil {
			return FinalizeResult{}, err
		}
		if !found {
			return FinalizeResult{}, ErrUploadExpired
		}
		return s.alreadyCommitted(ctx, userID, existing, now)
	case outcomeExpired:
		s.removeBlob(ctx, key)
		return FinalizeResult{}, ErrUploadExpired
	case outcomeOverQuota:
		s.removeBlob(ctx, key)
		return FinalizeResult{}, &QuotaError{UsedBytes: used, RequestedBytes: upload.Size, QuotaBytes: s.limits.QuotaBytes}
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "key": key, "size": upload.Size}).Info("upload finalized")
	return FinalizeResult{Upload: upload, UsedBytes: used, QuotaBytes: s.limits.QuotaBytes}, nil
}

func (s *Service) alreadyCommitted(ctx context.Context, userID string, existing Upload, now time.Time) (FinalizeResult, error) {
	if err := s.repo.DeletePending(ctx, existing.Key); err != nil {
		return FinalizeResult{}, err
	}
	used, err := s.repo.UsageBytes(ctx, userID, now)
	if err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult{Upload: existing, UsedBytes: used, QuotaBytes: s.limits.QuotaBytes}, nil
}

type Listing struct {
	Uploads          []Upload `json:"uploads"`
	UsedBytes        int64    `json:"usedBytes"`
	QuotaBytes       int64    `json:"quotaBytes"`
	MaxFileSizeBytes int64    `json:"maxFileSizeBytes"`
}

func (s *Service) List(ctx context.Context, userID string) (Listing, error) {
	now := s.now()
	if _, err := s.repo.DeleteExpiredPending(ctx, userID, now); err != nil {
		return Listing{}, fmt.Errorf("sweep expired reservations: %w", err)
	}

	var (
		items []Upload
		used  int64
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		items, err = s.repo.ListUploads(egCtx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		used, err = s.repo.UsageBytes(egCtx, userID, now)
		return err
	})
	if err := eg.Wait(); err != nil {
		return Listing{}, err
	}
	if items == nil {
		items = []Upload{}
	}
	return Listing{
		Uploads:          items,
		UsedBytes:        used,
		QuotaBytes:       s.limits.QuotaBytes,
		MaxFileSizeBytes: s.limits.MaxFileSizeBytes,
	}, nil
}

// owned loads an upload and hides other users' uploads as not found.
func (s *Service) owned(ctx context.Context, userID, id string) (Upload, error) {
	upload, err := s.repo.GetUpload(ctx, id)
	if err != nil {
		return Upload{}, err
	}
	if upload.UserID != userID {
		return Upload{}, ErrNotFound
	}
	return upload, nil
}

func (s *Service) Rename(ctx context.Context, userID, id, filename string) (Upload, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Upload{}, &InputError{Message: "Filename required"}
	}
	if _, err := s.owned(ctx, userID, id); err != nil {
		return Upload{}, err
	}
	return s.repo.RenameUpload(ctx, id, filename)
}

// Delete removes the object first so a failed storage call leaves the row
// (and the quota charge) in place.
func (s *Service) Delete(ctx context.Context, userID, id string) (Upload, error) {
	upload, err := s.owned(ctx, userID, id)
	if err != nil {
		return Upload{}, err
	}
	if err := s.blobs.Remove(ctx, upload.Key); err != nil {
		return Upload{}, err
	}
	if err := s.repo.DeleteUpload(ctx, upload.ID); err != nil {
		return Upload{}, err
	}
	return upload, nil
}

func (s *Service) DownloadURL(ctx context.Context, userID, id string) (string, error) {
	upload, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", err
	}
	return s.blobs.PresignGet(ctx, upload.Key, upload.Filename, s.limits.DownloadTTL)
}

type SweepReport struct {
	Expired      int
	BlobsRemoved int
	Failed       int
}

// Sweep clears expired reservations across all users and removes their
// objects unless a committed upload owns the key.
func (s *Service) Sweep(ctx context.Context, workers, batch int) (SweepReport, error) {
	if workers <= 0 {
		workers = 4
	}
	if batch <= 0 {
		batch = 500
	}
	expired, err := s.repo.ListExpiredPending(ctx, s.now(), batch)
	if err != nil {
		return SweepReport{}, err
	}

	var removed, failed atomic.Int64
	wp := workerpool.New(workers)
	for _, pending := range expired {
		pending := pending
		wp.Submit(func() {
			logger := s.log.WithFields(logrus.Fields{"key": pending.Key, "user_id": pending.UserID})
			_, committed, err := s.repo.FindUploadByKey(ctx, pending.Key)
			if err != nil {
				failed.Add(1)
				logger.WithError(err).Warn("sweep lookup failed")
				return
			}
			if !committed {
				if err := s.blobs.Remove(ctx, pending.Key); err != nil {
					failed.Add(1)
					logger.WithError(err).Warn("sweep remove object failed")
					return
				}
				removed.Add(1)
			}
			if err := s.repo.DeletePending(ctx, pending.Key); err != nil {
				failed.Add(1)
				logger.WithError(err).Warn("sweep delete reservation failed")
			}
		})
	}
	wp.StopWait()

	return SweepReport{
		Expired:      len(expired),
		BlobsRemoved: int(removed.Load()),
		Failed:       int(failed.Load()),
	}, nil
}

func (s *Service) discardPending(ctx context.Context, key string) {
	if err := s.repo.DeletePending(ctx, key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("delete reservation failed")
	}
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.blobs.Remove(ctx, key); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("remove object failed")
	}
}
