package app

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (a *Application) checkSuper() {
	const superUsername = "admin"
	const defaultPassword = "wagate"

	hashedPassword := common.Sha256HashWithSalt(defaultPassword, common.GetSecretSalt())

	var operator domain.SysOpr
	err := a.gormDB.Where("username = ?", superUsername).First(&operator).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := a.gormDB.Create(&domain.SysOpr{
			ID:        common.UUIDint64(),
			Realname:  "administrator",
			Username:  superUsername,
			Password:  hashedPassword,
			Level:     "super",
			Status:    common.ENABLED,
			Remark:    "super",
			LastLogin: time.Now(),
		}).Error; err != nil {
			zap.L().Error("failed to create default super admin", zap.Error(err))
		} else {
			zap.L().Info("initialized default super admin account", zap.String("username", superUsername))
		}
		return
	case err != nil:
		zap.L().Error("failed to query super admin", zap.Error(err))
		return
	}

	resetPassword := strings.TrimSpace(operator.Password) == ""
	resetLevel := !strings.EqualFold(operator.Level, "super")
	resetStatus := !strings.EqualFold(operator.Status, common.ENABLED)

	if !resetPassword && !resetLevel && !resetStatus {
		return
	}

	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}
	if resetPassword {
		updates["password"] = hashedPassword
	}
	if resetLevel {
		updates["level"] = "super"
	}
	if resetStatus {
		updates["status"] = common.ENABLED
	}

	if err := a.gormDB.Model(&domain.SysOpr{}).Where("id = ?", operator.ID).Updates(updates).Error; err != nil {
		zap.L().Error("failed to repair super admin account", zap.Error(err))
		return
	}

	zap.L().Warn("repaired default super admin account",
		zap.String("username", superUsername),
		zap.Bool("passwordReset", resetPassword),
		zap.Bool("levelReset", resetLevel),
		zap.Bool("statusEnabled", resetStatus))
}

// defaultSettings are the runtime-tunable rows seeded on first start.
var defaultSettings = []domain.SysConfig{
	{Category: "system", Name: "SystemTitle", Value: "WaGate", Remark: "System title"},
	{Category: "system", Name: "LogRetentionDays", Value: "365", Remark: "Operation log retention in days"},
	{Category: "whatsapp", Name: "MessageLogRetentionDays", Value: "90", Remark: "Message log retention in days"},
	{Category: "whatsapp", Name: "DefaultPace", Value: "3", Remark: "Default seconds between bulk recipients"},
}

func (a *Application) checkSettings() {
	for i, s := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("category = ? and name = ?", s.Category, s.Name).
			Count(&count)

		if count == 0 {
			s.ID = int64(i + 1)
			a.gormDB.Create(&s)
			zap.L().Info("initialized config",
				zap.String("key", s.Category+"."+s.Name),
				zap.String("default", s.Value))
		}
	}
}

// GetSettingsStringValue retrieves a string configuration value.
func (a *Application) GetSettingsStringValue(category, name string) string {
	var cfgRow domain.SysConfig
	if err := a.gormDB.Where("category = ? and name = ?", category, name).First(&cfgRow).Error; err != nil {
		return ""
	}
	return cfgRow.Value
}
