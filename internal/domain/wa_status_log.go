package domain

import "time"

// WaStatusLog records one supervisor state transition.
type WaStatusLog struct {
	ID         int64     `json:"id,string" gorm:"primaryKey"`
	TenantID   string    `json:"tenant_id" gorm:"index"`
	SessionID  string    `json:"session_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

func (WaStatusLog) TableName() string {
	return "wa_status_log"
}
