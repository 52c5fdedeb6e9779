package domain

import "time"

// SysCustomer is a recipient record for bulk dispatch. Phone is the
// primary destination; AltPhone is optional.
type SysCustomer struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"index"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone" gorm:"index"`
	AltPhone  string    `json:"alt_phone"`
	Tags      string    `json:"tags"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysCustomer) TableName() string {
	return "sys_customer"
}
