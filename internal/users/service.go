package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lumeoagency/newsdesk/backend/internal/platform"
)

var (
	// ErrNotLinked indicates the operator has no account linked for the platform.
	ErrNotLinked = errors.New("users: no linked account for platform")
	// ErrUnknownOperator indicates the operator id is not registered.
	ErrUnknownOperator = errors.New("users: unknown operator")
)

// ServiceConfig describes the dependencies of the operator directory.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves operators by role and exposes cached platform access.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the operator directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Ensure registers or refreshes an operator record for the session subject.
func (s *Service) Ensure(ctx context.Context, operator Operator) error {
	if normalize(operator.ID) == "" {
		return ErrUnknownOperator
	}
	operator.UpdatedAt = s.now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "display_name", "role", "updated_at"}),
	}).Create(&operator).Error
}

// Get returns a single operator by id.
func (s *Service) Get(ctx context.Context, operatorID string) (Operator, error) {
	var operator Operator
	err := s.db.WithContext(ctx).Where("id = ?", operatorID).Take(&operator).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Operator{}, ErrUnknownOperator
	}
	return operator, err
}

// ResolveByRoles returns the ids of every operator whose role is in the set.
// An empty result is not an error; fan-out treats it as a soft outcome.
func (s *Service) ResolveByRoles(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&Operator{}).
		Where("role IN ?", roles).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Link upserts a platform account mapping with its cached access token.
func (s *Service) Link(ctx context.Context, account LinkedAccount) error {
	if normalize(account.OperatorID) == "" || normalize(account.Platform) == "" {
		return ErrUnknownOperator
	}
	account.UpdatedAt = s.now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "operator_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_account_id", "access_token", "updated_at"}),
	}).Create(&account).Error
}

// Access resolves the cached platform credentials for an operator. Returns
// ErrNotLinked when the operator never linked the platform or the cached
// token is empty.
func (s *Service) Access(ctx context.Context, operatorID string, platformName platform.Name) (platform.Access, error) {
	var account LinkedAccount
	err := s.db.WithContext(ctx).
		Where("operator_id = ? AND platform = ?", operatorID, string(platformName)).
		Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.Access{}, ErrNotLinked
	}
	if err != nil {
		return platform.Access{}, err
	}
	if normalize(account.AccessToken) == "" {
		return platform.Access{}, ErrNotLinked
	}
	return platform.Access{Token: account.AccessToken, AccountID: account.RemoteAccountID}, nil
}
