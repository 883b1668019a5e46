package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumeoagency/newsdesk/backend/internal/news"
)

const defaultSendConcurrency = 8

var (
	// ErrRecordNotFound indicates the notification record does not exist
	// or belongs to another recipient.
	ErrRecordNotFound = errors.New("notify: record not found")

	errMissingDatabase  = errors.New("notify: database handle is required")
	errMissingResolver  = errors.New("notify: role resolver is required")
	errMissingRecipient = errors.New("notify: recipient id is required")
)

// RoleResolver yields the operator ids eligible for a role set.
type RoleResolver interface {
	ResolveByRoles(ctx context.Context, roles []string) ([]string, error)
}

// Broadcaster receives every created record for realtime delivery.
type Broadcaster interface {
	NotificationCreated(record Record)
}

// ServiceConfig describes the fan-out service dependencies. Sender may be
// nil: push is then skipped entirely while records are still created.
type ServiceConfig struct {
	Database        *gorm.DB
	Resolver        RoleResolver
	Sender          PushSender
	Broadcaster     Broadcaster
	IDProvider      news.IDProvider
	Clock           func() time.Time
	Logger          *zap.Logger
	SendConcurrency int
}

// Service writes durable notification records for eligible operators and
// attempts best-effort push delivery to their registered devices.
type Service struct {
	db          *gorm.DB
	resolver    RoleResolver
	sender      PushSender
	broadcaster Broadcaster
	idProvider  news.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	sendLimit   int
}

// NewService constructs the fan-out service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = news.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sendLimit := cfg.SendConcurrency
	if sendLimit <= 0 {
		sendLimit = defaultSendConcurrency
	}
	return &Service{
		db:          cfg.Database,
		resolver:    cfg.Resolver,
		sender:      cfg.Sender,
		broadcaster: cfg.Broadcaster,
		idProvider:  idProvider,
		clock:       clock,
		logger:      logger,
		sendLimit:   sendLimit,
	}, nil
}

// Event is one occurrence to fan out to operators.
type Event struct {
	SourceID  string
	Label     string
	EventType string
	Roles     []string
	URL       string
}

// FanOutResult summarises one fan-out pass.
type FanOutResult struct {
	EligibleOperators int
	RecordsCreated    int
	PushAttempted     int
	PushDelivered     int
	PrunedEndpoints   int
	FailedSends       int
}

// FanOut resolves eligible operators, creates one unread record each, then
// attempts push delivery. Record creation always succeeds or the whole call
// fails; push delivery never blocks or reverses record creation.
func (s *Service) FanOut(ctx context.Context, event Event) (FanOutResult, error) {
	recipientIDs, err := s.resolver.ResolveByRoles(ctx, event.Roles)
	if err != nil {
		return FanOutResult{}, fmt.Errorf("notify: failed to resolve eligible operators: %w", err)
	}
	if len(recipientIDs) == 0 {
		// Soft outcome, not an error.
		s.logger.Info("fan-out found no eligible operators",
			zap.String("event_type", event.EventType),
			zap.Strings("roles", event.Roles))
		return FanOutResult{}, nil
	}

	result := FanOutResult{EligibleOperators: len(recipientIDs)}

	records := make([]Record, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		recordID, err := s.idProvider.NewID()
		if err != nil {
			return FanOutResult{}, fmt.Errorf("notify: failed to issue record id: %w", err)
		}
		records = append(records, Record{
			ID:          recordID,
			RecipientID: recipientID,
			EventType:   event.EventType,
			SourceID:    event.SourceID,
			Message:     event.Label,
			CreatedAt:   s.clock().UTC(),
		})
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return FanOutResult{}, fmt.Errorf("notify: failed to create records: %w", err)
	}
	result.RecordsCreated = len(records)

	if s.broadcaster != nil {
		for _, record := range records {
			s.broadcaster.NotificationCreated(record)
		}
	}

	s.deliverPush(ctx, event, recipientIDs, &result)
	return result, nil
}

// deliverPush is independent of record creation: every failure here is
// absorbed into counters and logs.
func (s *Service) deliverPush(ctx context.Context, event Event, recipientIDs []string, result *FanOutResult) {
	if s.sender == nil {
		s.logger.Info("push transport unconfigured, records created without push")
		return
	}

	enabled, err := s.pushEnabledSet(ctx, recipientIDs)
	if err != nil {
		s.logger.Warn("failed to load push preferences, skipping push", zap.Error(err))
		return
	}

	var registrations []PushRegistration
	if err := s.db.WithContext(ctx).Where("recipient_id IN ?", recipientIDs).Find(&registrations).Error; err != nil {
		s.logger.Warn("failed to load push registrations, skipping push", zap.Error(err))
		return
	}

	payload, err := json.Marshal(PushMessage{
		Title:    "Newsdesk",
		Body:     event.Label,
		Tag:      event.EventType,
		URL:      event.URL,
		SourceID: event.SourceID,
	})
	if err != nil {
		s.logger.Warn("failed to encode push payload", zap.Error(err))
		return
	}

	var delivered, pruned, failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.sendLimit)
	for _, registration := range registrations {
		if !enabled[registration.RecipientID] {
			continue
		}
		result.PushAttempted++
		group.Go(func() error {
			err := s.sender.Send(groupCtx, registration, payload)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, ErrEndpointGone):
				// Self-healing: one deletion, no retry within this pass.
				if deleteErr := s.db.WithContext(groupCtx).
					Where("endpoint = ?", registration.Endpoint).
					Delete(&PushRegistration{}).Error; deleteErr != nil {
					s.logger.Warn("failed to prune gone endpoint", zap.Error(deleteErr))
				}
				pruned.Add(1)
				s.logger.Info("pruned gone push endpoint", zap.String("recipient_id", registration.RecipientID))
			default:
				failed.Add(1)
				s.logger.Warn("push send failed",
					zap.String("recipient_id", registration.RecipientID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = group.Wait()

	result.PushDelivered = int(delivered.Load())
	result.PrunedEndpoints = int(pruned.Load())
	result.FailedSends = int(failed.Load())
}

func (s *Service) pushEnabledSet(ctx context.Context, recipientIDs []string) (map[string]bool, error) {
	var preferences []Preference
	if err := s.db.WithContext(ctx).Where("recipient_id IN ?", recipientIDs).Find(&preferences).Error; err != nil {
		return nil, err
	}
	disabled := make(map[string]bool, len(preferences))
	for _, preference := range preferences {
		if !preference.PushEnabled {
			disabled[preference.RecipientID] = true
		}
	}
	// Push defaults to enabled when no preference row exists.
	enabled := make(map[string]bool, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		enabled[recipientID] = !disabled[recipientID]
	}
	return enabled, nil
}

// ListForRecipient returns the recipient's records newest-first with the
// exact total, serving both the console list and the polling fallback.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string, page, pageSize int) ([]Record, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Record{}).
		Where("recipient_id = ?", recipientID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []Record
	err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	return records, total, err
}

// UnreadCount returns the recipient's unread record count.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Record{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&count).Error
	return count, err
}

// MarkRead flips the read flag. Marking an already-read record again is a
// no-op, never an error.
func (s *Service) MarkRead(ctx context.Context, recipientID, recordID string) error {
	result := s.db.WithContext(ctx).Model(&Record{}).
		Where("id = ? AND recipient_id = ?", recordID, recipientID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&Record{}).
			Where("id = ? AND recipient_id = ?", recordID, recipientID).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return ErrRecordNotFound
		}
	}
	return nil
}

// MarkAllRead flips every unread record for the recipient.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) error {
	return s.db.WithContext(ctx).Model(&Record{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).Error
}

// Subscribe upserts a push registration by endpoint.
func (s *Service) Subscribe(ctx context.Context, registration PushRegistration) error {
	if registration.RecipientID == "" {
		return errMissingRecipient
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"recipient_id", "p256dh", "auth"}),
	}).Create(&registration).Error
}

// Unsubscribe revokes a registration by endpoint.
func (s *Service) Unsubscribe(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&PushRegistration{}).Error
}

// SetPreference upserts the recipient's push toggle.
func (s *Service) SetPreference(ctx context.Context, recipientID string, pushEnabled bool) error {
	if recipientID == "" {
		return errMissingRecipient
	}
	preference := Preference{RecipientID: recipientID, PushEnabled: pushEnabled, UpdatedAt: s.clock().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"push_enabled", "updated_at"}),
	}).Create(&preference).Error
}
