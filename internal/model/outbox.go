package model

import "time"

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage is a notification written in the same transaction as the
// financial change it describes. MessageKey is the reference id of that
// change and doubles as the Kafka partition key.
type OutboxMessage struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string     `gorm:"type:varchar(64);not null;index" json:"message_key"`
	Topic      string     `gorm:"type:varchar(128);not null" json:"topic"`
	EventType  string     `gorm:"type:varchar(64);not null" json:"event_type"`
	Payload    string     `gorm:"type:text;not null" json:"payload"`
	Status     string     `gorm:"type:varchar(16);not null;default:PENDING;index:idx_outbox_status_id,priority:1" json:"status"`
	RetryCount int        `gorm:"not null;default:0" json:"retry_count"`
	LastError  string     `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}
