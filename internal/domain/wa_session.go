package domain

import "time"

// WaSession is the persisted view of one (tenant, session) connection
// identity. The live handle never touches the database; this row only
// mirrors the supervisor's last known state.
type WaSession struct {
	ID                int64     `json:"id,string" gorm:"primaryKey"`
	TenantID          string    `json:"tenant_id" gorm:"index:idx_wa_session_key,unique"`
	SessionID         string    `json:"session_id" gorm:"index:idx_wa_session_key,unique"`
	Jid               string    `json:"jid"`
	Status            string    `json:"status"`
	IsDefault         bool      `json:"is_default"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (WaSession) TableName() string {
	return "wa_session"
}
