package users

import (
	"strings"
	"time"
)

// Role values recognised for fan-out eligibility.
const (
	RoleAdmin     = "admin"
	RoleEditor    = "editor"
	RoleMarketing = "marketing"
)

// Operator is a console user able to author posts and receive notifications.
type Operator struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320;uniqueIndex"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Role        string    `gorm:"column:role;size:32;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing operators.
func (Operator) TableName() string {
	return "operators"
}

// LinkedAccount maps an operator to one external platform identity and
// caches the bearer token the platform adapters authenticate with.
type LinkedAccount struct {
	OperatorID      string    `gorm:"column:operator_id;primaryKey;size:190;not null"`
	Platform        string    `gorm:"column:platform;primaryKey;size:32;not null"`
	RemoteAccountID string    `gorm:"column:remote_account_id;size:190"`
	AccessToken     string    `gorm:"column:access_token;size:512"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing linked platform accounts.
func (LinkedAccount) TableName() string {
	return "operator_linked_accounts"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
