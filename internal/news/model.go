package news

import (
	"time"

	"github.com/google/uuid"
)

// Post is one authored content unit. Publish flags are only ever set after
// the corresponding adapter call succeeded; the links are the stable remote
// handles used for later update and delete.
type Post struct {
	ID              string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Body            string    `gorm:"column:body;not null" json:"body"`
	BodyTranslated  string    `gorm:"column:body_translated" json:"body_translated"`
	SharedFacebook  bool      `gorm:"column:shared_facebook;not null;default:false" json:"shared_facebook"`
	SharedInstagram bool      `gorm:"column:shared_instagram;not null;default:false" json:"shared_instagram"`
	LinkFacebook    *string   `gorm:"column:link_facebook;size:512" json:"link_facebook"`
	LinkInstagram   *string   `gorm:"column:link_instagram;size:512" json:"link_instagram"`
	ExternalIDFB    *string   `gorm:"column:external_id_facebook;size:190" json:"-"`
	ExternalIDIG    *string   `gorm:"column:external_id_instagram;size:190" json:"-"`
	CreatorID       string    `gorm:"column:creator_id;size:190;not null;index" json:"creator_id"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Images []Image `gorm:"foreignKey:PostID" json:"images"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "news_posts"
}

// Image is binary media owned by exactly one Post, referenced by its
// storage path and kept in display order.
type Image struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	PostID      string    `gorm:"column:post_id;size:190;not null;index" json:"post_id"`
	StoragePath string    `gorm:"column:storage_path;size:512;not null" json:"storage_path"`
	SortOrder   int       `gorm:"column:sort_order;not null" json:"sort_order"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName exposes the table backing post images.
func (Image) TableName() string {
	return "news_images"
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
