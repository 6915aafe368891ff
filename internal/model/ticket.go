package model

import (
	"time"

	"gorm.io/gorm"
)

// Ticket is a paid prediction. Visibility and price are owned by the content
// service; the core only reads them.
type Ticket struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatorID  int64          `gorm:"index;not null" json:"creator_id"`
	Title      string         `gorm:"type:varchar(256)" json:"title"`
	IsPublic   bool           `gorm:"not null;default:false" json:"is_public"`
	PriceCents int64          `gorm:"not null;default:0" json:"price_cents"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Ticket) TableName() string {
	return "ticket"
}

// User is the slice of the account record the core needs.
type User struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	IsTipster bool           `gorm:"not null;default:false" json:"is_tipster"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string {
	return "user"
}
