// Package store is the persistence gateway: append-only writes of
// session status, message outcomes and structured logs to the
// relational store. Every write is independent and fire-and-forget;
// failures are logged and never propagated to the core.
package store

import (
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

var _ session.Recorder = (*Recorder)(nil)

// WriteStatus appends a transition row and upserts the session mirror
// row keyed by (tenant, session).
func (r *Recorder) WriteStatus(key session.Key, from, to session.Status, reason string) {
	if err := r.db.Create(&domain.WaStatusLog{
		ID:         common.UUIDint64(),
		TenantID:   key.Tenant,
		SessionID:  key.Session,
		FromStatus: string(from),
		ToStatus:   string(to),
		Reason:     reason,
		CreatedAt:  time.Now(),
	}).Error; err != nil {
		zap.L().Warn("store: status log write failed",
			zap.String("key", key.String()), zap.Error(err))
	}

	var others int64
	r.db.Model(&domain.WaSession{}).
		Where("tenant_id = ? and session_id <> ?", key.Tenant, key.Session).
		Count(&others)

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
	}).Create(&domain.WaSession{
		ID:             common.UUIDint64(),
		TenantID:       key.Tenant,
		SessionID:      key.Session,
		Status:         string(to),
		IsDefault:      others == 0,
		LastActivityAt: time.Now(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}).Error
	if err != nil {
		zap.L().Warn("store: session upsert failed",
			zap.String("key", key.String()), zap.Error(err))
	}
}

// WriteOutcome appends one outbound send outcome.
func (r *Recorder) WriteOutcome(jobID string, key session.Key, recipientID, address, status, body, detail string) {
	if err := r.db.Create(&domain.WaMessageLog{
		ID:          common.UUIDint64(),
		JobID:       jobID,
		TenantID:    key.Tenant,
		SessionID:   key.Session,
		RecipientID: recipientID,
		Address:     address,
		Direction:   domain.MessageDirectionOut,
		Status:      status,
		Body:        excerpt(body),
		Detail:      detail,
		CreatedAt:   time.Now(),
	}).Error; err != nil {
		zap.L().Warn("store: outcome write failed",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// WriteInbound appends one received message (location pings and chat
// replies land here).
func (r *Recorder) WriteInbound(key session.Key, sender, body string) {
	if err := r.db.Create(&domain.WaMessageLog{
		ID:        common.UUIDint64(),
		TenantID:  key.Tenant,
		SessionID: key.Session,
		Address:   sender,
		Direction: domain.MessageDirectionIn,
		Status:    domain.MessageStatusReceived,
		Body:      excerpt(body),
		CreatedAt: time.Now(),
	}).Error; err != nil {
		zap.L().Warn("store: inbound write failed",
			zap.String("key", key.String()), zap.Error(err))
	}
}

// WriteLog appends one structured application log row.
func (r *Recorder) WriteLog(level, category, message string, context map[string]interface{}) {
	ctxJSON := ""
	if len(context) > 0 {
		if b, err := jsoniter.Marshal(context); err == nil {
			ctxJSON = string(b)
		}
	}
	if err := r.db.Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		Level:     level,
		Category:  category,
		Message:   message,
		Context:   ctxJSON,
		OptTime:   time.Now(),
		CreatedAt: time.Now(),
	}).Error; err != nil {
		zap.L().Warn("store: log write failed", zap.Error(err))
	}
}

// excerpt truncates bodies so log rows stay bounded, backing off to a
// rune boundary so the excerpt stays valid UTF-8.
func excerpt(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
