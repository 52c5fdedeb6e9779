package domain

import "time"

const (
	MessageDirectionOut = "out"
	MessageDirectionIn  = "in"

	MessageStatusSent     = "sent"
	MessageStatusFailed   = "failed"
	MessageStatusReceived = "received"
)

// WaMessageLog is one outbound send outcome or one inbound message,
// written append-only by the persistence gateway.
type WaMessageLog struct {
	ID          int64     `json:"id,string" gorm:"primaryKey"`
	JobID       string    `json:"job_id" gorm:"index"`
	TenantID    string    `json:"tenant_id" gorm:"index"`
	SessionID   string    `json:"session_id"`
	RecipientID string    `json:"recipient_id"`
	Address     string    `json:"address"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	Body        string    `json:"body"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

func (WaMessageLog) TableName() string {
	return "wa_message_log"
}
