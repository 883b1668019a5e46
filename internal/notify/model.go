package notify

import "time"

// Event types recorded on notification records.
const (
	EventTypeNewsPublished  = "news_published"
	EventTypeInboundRequest = "inbound_request"
)

// Record is one durable notification owned by exactly one operator. Records
// are created only by the fan-out service and mutated only to flip the read
// flag; normal flows never delete them.
type Record struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	RecipientID string    `gorm:"column:recipient_id;size:190;not null;index" json:"recipient_id"`
	EventType   string    `gorm:"column:event_type;size:64;not null" json:"event_type"`
	SourceID    string    `gorm:"column:source_id;size:190;not null;index" json:"source_id"`
	Message     string    `gorm:"column:message;size:512;not null" json:"message"`
	IsRead      bool      `gorm:"column:is_read;not null;default:false;index" json:"is_read"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName exposes the table backing notification records.
func (Record) TableName() string {
	return "notification_records"
}

// PushRegistration is one device/browser endpoint with the per-device keys
// the Web Push protocol encrypts against. Upserted by endpoint; removed when
// the transport reports the endpoint gone or the operator revokes it.
type PushRegistration struct {
	Endpoint    string    `gorm:"column:endpoint;primaryKey;size:512;not null" json:"endpoint"`
	RecipientID string    `gorm:"column:recipient_id;size:190;index" json:"recipient_id"`
	P256dh      string    `gorm:"column:p256dh;size:255;not null" json:"p256dh"`
	Auth        string    `gorm:"column:auth;size:255;not null" json:"auth"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName exposes the table backing push registrations.
func (PushRegistration) TableName() string {
	return "push_registrations"
}

// Preference is the per-operator push toggle. It gates push delivery only;
// record creation is unaffected.
type Preference struct {
	RecipientID string    `gorm:"column:recipient_id;primaryKey;size:190;not null" json:"recipient_id"`
	PushEnabled bool      `gorm:"column:push_enabled;not null;default:true" json:"push_enabled"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing notification preferences.
func (Preference) TableName() string {
	return "notification_preferences"
}
