package news

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lumeoagency/newsdesk/backend/internal/platform"
	"github.com/lumeoagency/newsdesk/backend/internal/storage"
	"github.com/lumeoagency/newsdesk/backend/internal/translate"
)

const defaultUploadConcurrency = 4

var (
	// ErrEmptyBody rejects posts without text before any write.
	ErrEmptyBody = errors.New("news: post body must not be empty")
	// ErrInstagramNeedsImage rejects Instagram targets without media before
	// any write. This is a hard precondition, not a best-effort check.
	ErrInstagramNeedsImage = errors.New("news: instagram target requires at least one image")
	// ErrPostNotFound indicates the requested post does not exist.
	ErrPostNotFound = errors.New("news: post not found")

	errMissingDatabase = errors.New("news: database handle is required")
	errMissingStorage  = errors.New("news: object store is required")
)

// OutcomeStatus is the terminal status of one platform's publish attempt.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// PlatformOutcome is the derived per-platform result of a publish attempt.
// It transitions from absent to exactly one terminal status.
type PlatformOutcome struct {
	Platform    platform.Name `json:"platform"`
	Status      OutcomeStatus `json:"status"`
	ExternalID  string        `json:"external_id,omitempty"`
	Link        string        `json:"link,omitempty"`
	ErrorReason string        `json:"error_reason,omitempty"`
}

// AccessResolver yields the cached platform credentials for an operator.
type AccessResolver interface {
	Access(ctx context.Context, operatorID string, platformName platform.Name) (platform.Access, error)
}

// ServiceConfig describes the orchestrator's collaborators.
type ServiceConfig struct {
	Database          *gorm.DB
	Storage           storage.ObjectStore
	Translator        translate.Translator
	Facebook          platform.Publisher
	Instagram         platform.Publisher
	Access            AccessResolver
	Clock             func() time.Time
	IDProvider        IDProvider
	Logger            *zap.Logger
	TargetLocale      string
	UploadConcurrency int
	DeleteObserver    platform.DeleteObserver
}

// Service is the publish orchestrator: the only component allowed to decide
// whether a single platform's failure aborts the whole authoring operation.
type Service struct {
	db             *gorm.DB
	store          storage.ObjectStore
	translator     translate.Translator
	facebook       platform.Publisher
	instagram      platform.Publisher
	access         AccessResolver
	clock          func() time.Time
	idProvider     IDProvider
	logger         *zap.Logger
	targetLocale   string
	uploadLimit    int
	deleteObserver platform.DeleteObserver
}

// NewService constructs the orchestrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadLimit := cfg.UploadConcurrency
	if uploadLimit <= 0 {
		uploadLimit = defaultUploadConcurrency
	}
	observer := cfg.DeleteObserver
	if observer == nil {
		observer = func(platform.DeleteOutcome) {}
	}
	targetLocale := cfg.TargetLocale
	if targetLocale == "" {
		targetLocale = "en"
	}
	return &Service{
		db:             cfg.Database,
		store:          cfg.Storage,
		translator:     cfg.Translator,
		facebook:       cfg.Facebook,
		instagram:      cfg.Instagram,
		access:         cfg.Access,
		clock:          clock,
		idProvider:     idProvider,
		logger:         logger,
		targetLocale:   targetLocale,
		uploadLimit:    uploadLimit,
		deleteObserver: observer,
	}, nil
}

// ImageUpload is one submitted media file.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Targets selects the platforms a post should be published to.
type Targets struct {
	Facebook  bool `json:"facebook"`
	Instagram bool `json:"instagram"`
}

// ComposeRequest is the authoring input.
type ComposeRequest struct {
	CreatorID string
	Body      string
	Images    []ImageUpload
	Targets   Targets
}

// ComposeResult reports the created post and the per-platform outcomes.
type ComposeResult struct {
	PostID        string            `json:"post_id"`
	LinkFacebook  *string           `json:"link_facebook"`
	LinkInstagram *string           `json:"link_instagram"`
	Outcomes      []PlatformOutcome `json:"outcomes"`
}

// Compose runs the publish pipeline: validate, translate (best effort),
// persist the post, upload media, then invoke the requested adapters.
// Facebook failures are absorbed into a failed outcome; Instagram failures
// past the precondition are the operation's terminal error.
func (s *Service) Compose(ctx context.Context, req ComposeRequest) (ComposeResult, error) {
	if strings.TrimSpace(req.Body) == "" {
		return ComposeResult{}, ErrEmptyBody
	}
	if req.Targets.Instagram && len(req.Images) == 0 {
		return ComposeResult{}, ErrInstagramNeedsImage
	}

	translated := s.translateBody(ctx, req.Body)

	postID, err := s.idProvider.NewID()
	if err != nil {
		return ComposeResult{}, fmt.Errorf("news: failed to issue post id: %w", err)
	}
	post := Post{
		ID:             postID,
		Body:           req.Body,
		BodyTranslated: translated,
		CreatorID:      req.CreatorID,
		CreatedAt:      s.clock().UTC(),
	}
	// The row is persisted before any upload or platform call so every
	// subsequent step has a stable id to attach results to.
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return ComposeResult{}, fmt.Errorf("news: failed to persist post: %w", err)
	}

	images := s.uploadImages(ctx, postID, req.Images)
	if len(images) > 0 {
		if err := s.db.WithContext(ctx).Create(&images).Error; err != nil {
			return ComposeResult{}, fmt.Errorf("news: failed to persist images: %w", err)
		}
	}

	imageURLs := make([]string, 0, len(images))
	for _, image := range images {
		imageURLs = append(imageURLs, s.store.PublicURL(image.StoragePath))
	}

	result := ComposeResult{PostID: postID}

	facebookOutcome, fbErr := s.publishTo(ctx, platform.NameFacebook, s.facebook, req.Targets.Facebook, req.CreatorID, &post, req.Body, imageURLs)
	if fbErr != nil {
		// Absorbed by policy: the post still succeeds overall with the
		// failure recorded for operator display.
		s.logger.Warn("facebook publish absorbed as failed outcome", zap.String("post_id", postID), zap.Error(fbErr))
	}
	result.Outcomes = append(result.Outcomes, facebookOutcome)
	result.LinkFacebook = post.LinkFacebook

	instagramOutcome, igErr := s.publishTo(ctx, platform.NameInstagram, s.instagram, req.Targets.Instagram, req.CreatorID, &post, req.Body, imageURLs)
	result.Outcomes = append(result.Outcomes, instagramOutcome)
	result.LinkInstagram = post.LinkInstagram

	if igErr != nil {
		// The image precondition was satisfied up front, so a failure here
		// is a platform fault the operator must see immediately.
		return result, igErr
	}
	return result, nil
}

// translateBody is a best-effort enhancement: on any failure the original
// text stands in as its own translation.
func (s *Service) translateBody(ctx context.Context, body string) string {
	if s.translator == nil {
		return body
	}
	result, err := s.translator.Translate(ctx, body, s.targetLocale)
	if err != nil {
		s.logger.Warn("translation unavailable, storing source text", zap.Error(err))
		return body
	}
	return result.Text
}

// uploadImages stores submitted media concurrently. A failed upload is
// logged and skipped; the post may end with fewer images than submitted but
// the request never fails on a single image.
func (s *Service) uploadImages(ctx context.Context, postID string, uploads []ImageUpload) []Image {
	if len(uploads) == 0 {
		return nil
	}

	images := make([]*Image, len(uploads))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.uploadLimit)

	for index, upload := range uploads {
		group.Go(func() error {
			imageID, err := s.idProvider.NewID()
			if err != nil {
				s.logger.Error("failed to issue image id", zap.Int("sort_order", index), zap.Error(err))
				return nil
			}
			storagePath := fmt.Sprintf("news/%s/%02d%s", postID, index, path.Ext(upload.Filename))
			if err := s.store.Put(groupCtx, storagePath, upload.Data, upload.ContentType); err != nil {
				s.logger.Error("image upload failed, skipping",
					zap.String("post_id", postID),
					zap.Int("sort_order", index),
					zap.Error(err))
				return nil
			}
			images[index] = &Image{
				ID:          imageID,
				PostID:      postID,
				StoragePath: storagePath,
				SortOrder:   index,
				CreatedAt:   s.clock().UTC(),
			}
			return nil
		})
	}
	_ = group.Wait()

	kept := make([]Image, 0, len(images))
	for _, image := range images {
		if image != nil {
			kept = append(kept, *image)
		}
	}
	return kept
}

// publishTo invokes one adapter and records the outcome on the post row in
// the same step. The publish flag is only flipped on adapter success. The
// returned error is the raw adapter failure; the caller applies policy.
func (s *Service) publishTo(ctx context.Context, name platform.Name, publisher platform.Publisher, requested bool, creatorID string, post *Post, message string, imageURLs []string) (PlatformOutcome, error) {
	if !requested {
		return PlatformOutcome{Platform: name, Status: OutcomeSkipped}, nil
	}
	if publisher == nil {
		err := platform.NewError(name, platform.ErrorKindPostFailed, "configure", "platform not configured", nil)
		return PlatformOutcome{Platform: name, Status: OutcomeFailed, ErrorReason: err.Error()}, err
	}

	access, err := s.access.Access(ctx, creatorID, name)
	if err != nil {
		wrapped := platform.NewError(name, platform.ErrorKindNotLinked, "resolve_access", err.Error(), err)
		s.logger.Warn("platform access resolution failed",
			zap.String("platform", string(name)), zap.Error(err))
		return PlatformOutcome{Platform: name, Status: OutcomeFailed, ErrorReason: wrapped.Error()}, wrapped
	}

	published, err := publisher.Publish(ctx, access, platform.PublishRequest{Message: message, ImageURLs: imageURLs})
	if err != nil {
		s.logger.Warn("platform publish failed",
			zap.String("platform", string(name)),
			zap.String("post_id", post.ID),
			zap.Error(err))
		return PlatformOutcome{Platform: name, Status: OutcomeFailed, ErrorReason: err.Error()}, err
	}

	updates := map[string]interface{}{}
	switch name {
	case platform.NameFacebook:
		post.SharedFacebook = true
		post.LinkFacebook = &published.Link
		post.ExternalIDFB = &published.ExternalID
		updates["shared_facebook"] = true
		updates["link_facebook"] = published.Link
		updates["external_id_facebook"] = published.ExternalID
	case platform.NameInstagram:
		post.SharedInstagram = true
		post.LinkInstagram = &published.Link
		post.ExternalIDIG = &published.ExternalID
		updates["shared_instagram"] = true
		updates["link_instagram"] = published.Link
		updates["external_id_instagram"] = published.ExternalID
	}
	if err := s.db.WithContext(ctx).Model(&Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
		s.logger.Error("failed to record platform result",
			zap.String("platform", string(name)),
			zap.String("post_id", post.ID),
			zap.Error(err))
		return PlatformOutcome{Platform: name, Status: OutcomeFailed, ErrorReason: err.Error()}, err
	}
	return PlatformOutcome{Platform: name, Status: OutcomeSuccess, ExternalID: published.ExternalID, Link: published.Link}, nil
}

// UpdateBody edits the text of an existing post and pushes the edit to every
// platform the post was shared on. Attached media are not re-touched.
func (s *Service) UpdateBody(ctx context.Context, postID, operatorID, body string) (Post, error) {
	if strings.TrimSpace(body) == "" {
		return Post{}, ErrEmptyBody
	}
	post, err := s.Get(ctx, postID)
	if err != nil {
		return Post{}, err
	}

	if post.SharedFacebook && post.ExternalIDFB != nil && s.facebook != nil {
		access, err := s.access.Access(ctx, operatorID, platform.NameFacebook)
		if err != nil {
			return Post{}, err
		}
		if err := s.facebook.Update(ctx, access, *post.ExternalIDFB, body); err != nil {
			return Post{}, err
		}
	}
	if post.SharedInstagram && post.ExternalIDIG != nil && s.instagram != nil {
		access, err := s.access.Access(ctx, operatorID, platform.NameInstagram)
		if err != nil {
			return Post{}, err
		}
		if err := s.instagram.Update(ctx, access, *post.ExternalIDIG, body); err != nil {
			return Post{}, err
		}
	}

	translated := s.translateBody(ctx, body)
	err = s.db.WithContext(ctx).Model(&Post{}).Where("id = ?", postID).
		Updates(map[string]interface{}{"body": body, "body_translated": translated}).Error
	if err != nil {
		return Post{}, err
	}
	post.Body = body
	post.BodyTranslated = translated
	return post, nil
}

// Delete removes a post. The remote Facebook post is deleted best-effort
// (fire, log outcome, never block local deletion); Instagram exposes no
// delete, so the remote media is orphaned and logged. Storage objects are
// removed before the rows that reference them.
func (s *Service) Delete(ctx context.Context, postID, operatorID string) error {
	post, err := s.Get(ctx, postID)
	if err != nil {
		return err
	}

	if post.SharedFacebook && post.ExternalIDFB != nil && s.facebook != nil {
		s.remoteDelete(ctx, s.facebook, operatorID, *post.ExternalIDFB)
	}
	if post.SharedInstagram && post.ExternalIDIG != nil {
		outcome := platform.DeleteOutcome{
			Platform:   platform.NameInstagram,
			ExternalID: *post.ExternalIDIG,
			Deleted:    false,
			Err:        platform.NewError(platform.NameInstagram, platform.ErrorKindDeleteUnsupported, "delete_post", "remote media orphaned", nil),
		}
		s.logger.Info("instagram post orphaned on delete", zap.String("external_id", *post.ExternalIDIG))
		s.deleteObserver(outcome)
	}

	paths := make([]string, 0, len(post.Images))
	for _, image := range post.Images {
		paths = append(paths, image.StoragePath)
	}
	if len(paths) > 0 {
		if err := s.store.Delete(ctx, paths); err != nil {
			// The row is the source of truth for existence; an orphaned
			// storage object is tolerable, a dangling row is not.
			s.logger.Warn("failed to delete storage objects", zap.String("post_id", postID), zap.Error(err))
		}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", postID).Delete(&Image{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", postID).Delete(&Post{}).Error
	})
}

func (s *Service) remoteDelete(ctx context.Context, publisher platform.Publisher, operatorID, externalID string) {
	name := publisher.PlatformName()
	outcome := platform.DeleteOutcome{Platform: name, ExternalID: externalID}

	access, err := s.access.Access(ctx, operatorID, name)
	if err == nil {
		err = publisher.Delete(ctx, access, externalID)
	}
	if err != nil {
		outcome.Err = err
		s.logger.Warn("remote delete failed",
			zap.String("platform", string(name)),
			zap.String("external_id", externalID),
			zap.Error(err))
	} else {
		outcome.Deleted = true
	}
	s.deleteObserver(outcome)
}

// Get loads a post with its images in display order.
func (s *Service) Get(ctx context.Context, postID string) (Post, error) {
	var post Post
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Where("id = ?", postID).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, ErrPostNotFound
	}
	return post, err
}

// List returns a page of posts newest-first plus the exact total count.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]Post, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Post{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var posts []Post
	err := s.db.WithContext(ctx).
		Preload("Images", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&posts).Error
	return posts, total, err
}
