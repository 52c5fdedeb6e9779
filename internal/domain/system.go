package domain

import "time"

// SysConfig is a runtime-tunable settings row (category + name -> value).
type SysConfig struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Category  string    `json:"category" gorm:"index"`
	Name      string    `json:"name" gorm:"index"`
	Value     string    `json:"value"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysConfig) TableName() string {
	return "sys_config"
}

// SysOpr is an operator account for the admin API.
type SysOpr struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Realname  string    `json:"realname"`
	Username  string    `json:"username" gorm:"uniqueIndex"`
	Password  string    `json:"-"`
	Level     string    `json:"level"`
	Status    string    `json:"status"`
	Remark    string    `json:"remark"`
	LastLogin time.Time `json:"last_login"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SysOpr) TableName() string {
	return "sys_opr"
}

// SysOprLog is a structured application log row written by the
// persistence gateway (fire and forget).
type SysOprLog struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Level     string    `json:"level"`
	Category  string    `json:"category" gorm:"index"`
	Message   string    `json:"message"`
	Context   string    `json:"context"`
	OptTime   time.Time `json:"opt_time" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

func (SysOprLog) TableName() string {
	return "sys_opr_log"
}
