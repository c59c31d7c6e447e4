package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/sirupsen/logrus"

	"coursetalk/api/internal/blob"
	"coursetalk/api/internal/comments"
	"coursetalk/api/internal/config"
	"coursetalk/api/internal/markdown"
	"coursetalk/api/internal/session"
	"coursetalk/api/internal/store"
	"coursetalk/api/internal/uploads"
	"coursetalk/api/internal/util"
)

type dataStore interface {
	GetUser(context.Context, string) (store.User, error)
	ActiveSuspension(context.Context, string, time.Time) (*store.Suspension, error)
	ListSuspensions(context.Context, int) ([]store.Suspension, error)
	CreateSuspension(context.Context, store.Suspension) error
	LiftSuspension(context.Context, string, string, time.Time) (store.Suspension, error)
	TargetExists(context.Context, comments.Target) (bool, error)
	ResolveSectionTeacher(context.Context, comments.SectionTeacherPair, bool) (comments.SectionTeacherTarget, error)
	ListCommentRecords(context.Context, comments.Target) ([]comments.Record, error)
	ListThreadRecords(context.Context, string) ([]comments.Record, error)
	GetComment(context.Context, string) (store.Comment, error)
	CreateComment(context.Context, store.NewComment) error
	EditComment(context.Context, store.CommentEdit) error
	ApplyStatusChange(context.Context, store.StatusChange) error
	ToggleReaction(context.Context, string, string, comments.ReactionType) (bool, error)
	RemoveReaction(context.Context, string, string, comments.ReactionType) error
	ListReactionRows(context.Context, string) ([]comments.ReactionRow, error)
	ListModerationItems(context.Context, string, int) ([]store.ModerationItem, error)
	GetDescription(context.Context, comments.Target) (store.Description, bool, error)
	ListDescriptionEdits(context.Context, string, int) ([]store.DescriptionEdit, error)
	UpsertDescription(context.Context, comments.Target, string, string, time.Time) (string, bool, error)
	Ping(ctx context.Context) error
}

type uploadService interface {
	Limits() uploads.Limits
	Reserve(context.Context, string, uploads.ReserveRequest) (uploads.Reservation, error)
	Finalize(context.Context, string, uploads.FinalizeRequest) (uploads.FinalizeResult, error)
	List(context.Context, string) (uploads.Listing, error)
	Rename(context.Context, string, string, string) (uploads.Upload, error)
	Delete(context.Context, string, string) (uploads.Upload, error)
	DownloadURL(context.Context, string, string) (string, error)
}

type viewerCache interface {
	Get(context.Context, string) (comments.Viewer, bool, error)
	Set(context.Context, comments.Viewer) error
	Invalidate(context.Context, string) error
}

type pinger interface {
	Ping(context.Context) error
}

// readinessCheck is one dependency reported by /api/ready.
type readinessCheck struct {
	name   string
	target pinger
}

type Service struct {
	cfg        config.Config
	store      dataStore
	uploads    uploadService
	viewers    viewerCache
	checks     []readinessCheck
	markdown   *markdown.Renderer
	validate   *validator.Validate
	translator ut.Translator
	log        logrus.FieldLogger
	now        func() time.Time
	newID      func() string
}

// New wires the service. viewers may be nil to resolve every request from
// the database.
func New(cfg config.Config, dataStore *store.PostgresStore, uploadSvc *uploads.Service, blobs *blob.MinioStore, viewers *session.ViewerCache, logger logrus.FieldLogger) (*Service, error) {
	renderer, err := markdown.NewRenderer(markdown.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	svc := newService(cfg, dataStore, uploadSvc, renderer, logger)
	svc.addReadinessCheck("storage", blobs)
	if viewers != nil {
		svc.viewers = viewers
		svc.addReadinessCheck("cache", viewers)
	}
	return svc, nil
}

func newService(cfg config.Config, dataStore dataStore, uploadSvc uploadService, renderer *markdown.Renderer, logger logrus.FieldLogger) *Service {
	validate, translator := newValidator()
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		uploads:    uploadSvc,
		checks:     []readinessCheck{{name: "database", target: dataStore}},
		markdown:   renderer,
		validate:   validate,
		translator: translator,
		log:        logger.WithField("component", "app"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return util.NewID("") },
	}
}

func newValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	english := en.New()
	translator, _ := ut.New(english, english).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate, translator
}

// validateInput runs struct validation and converts failures into a
// VALIDATION_ERROR with per-field messages.
func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate input: %w", err)
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		details[fieldErr.Field()] = fieldErr.Translate(s.translator)
	}
	return validationError("Invalid input", details)
}

func (s *Service) addReadinessCheck(name string, target pinger) {
	s.checks = append(s.checks, readinessCheck{name: name, target: target})
}

// Readiness pings every registered dependency and reports each result under
// its name. ready is false when any check fails.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	ready := true
	results := make(map[string]any, len(s.checks))
	for _, check := range s.checks {
		if err := check.target.Ping(ctx); err != nil {
			ready = false
			s.log.WithError(err).WithField("check", check.name).Warn("readiness check failed")
			results[check.name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		results[check.name] = map[string]any{"status": "ok"}
	}
	return ready, results
}

// render fills BodyHTML for every node of a built tree.
func (s *Service) render(roots []*comments.Node) {
	comments.Walk(roots, func(node *comments.Node) {
		node.BodyHTML = s.markdown.Render(node.Body)
	})
}

func clampLimit(raw string, fallback, max int) int {
	limit, err := parseInt(strings.TrimSpace(raw))
	if err != nil || raw == "" {
		return fallback
	}
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}
