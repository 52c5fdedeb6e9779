package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"gorm.io/gorm"
)

func registerOutcomeRoutes() {
	webserver.ApiGET("/wa/messages", listMessageLogs)
	webserver.ApiGET("/wa/messages/export", exportMessageLogs)
	webserver.ApiGET("/wa/status/logs", listStatusLogs)
}

// messageLogQuery applies the shared filter set for message log routes.
func messageLogQuery(c echo.Context) *gorm.DB {
	db := GetDB(c).Model(&domain.WaMessageLog{})
	if tenant := strings.TrimSpace(c.QueryParam("tenant")); tenant != "" {
		db = db.Where("tenant_id = ?", tenant)
	}
	if jobID := strings.TrimSpace(c.QueryParam("job_id")); jobID != "" {
		db = db.Where("job_id = ?", jobID)
	}
	if dir := strings.TrimSpace(c.QueryParam("direction")); dir != "" {
		db = db.Where("direction = ?", dir)
	}
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		db = db.Where("status = ?", status)
	}
	if start := strings.TrimSpace(c.QueryParam("start")); start != "" {
		if t, err := dateparse.ParseLocal(start); err == nil {
			db = db.Where("created_at >= ?", t)
		}
	}
	if end := strings.TrimSpace(c.QueryParam("end")); end != "" {
		if t, err := dateparse.ParseLocal(end); err == nil {
			db = db.Where("created_at <= ?", t)
		}
	}
	return db
}

func listMessageLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := messageLogQuery(c)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query message logs", err.Error())
	}

	var logs []domain.WaMessageLog
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query message logs", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}

// messageLogCSV is the flat export row shape.
type messageLogCSV struct {
	JobID       string `csv:"job_id"`
	TenantID    string `csv:"tenant_id"`
	SessionID   string `csv:"session_id"`
	RecipientID string `csv:"recipient_id"`
	Address     string `csv:"address"`
	Direction   string `csv:"direction"`
	Status      string `csv:"status"`
	Detail      string `csv:"detail"`
	CreatedAt   string `csv:"created_at"`
}

// exportMessageLogs streams the filtered logs as a CSV attachment,
// capped to keep exports bounded.
func exportMessageLogs(c echo.Context) error {
	var logs []domain.WaMessageLog
	if err := messageLogQuery(c).Order("id DESC").Limit(50000).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query message logs", err.Error())
	}

	rows := make([]messageLogCSV, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, messageLogCSV{
			JobID:       l.JobID,
			TenantID:    l.TenantID,
			SessionID:   l.SessionID,
			RecipientID: l.RecipientID,
			Address:     l.Address,
			Direction:   l.Direction,
			Status:      l.Status,
			Detail:      l.Detail,
			CreatedAt:   l.CreatedAt.Format(time.RFC3339),
		})
	}

	data, err := gocsv.MarshalString(&rows)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "EXPORT_FAILED", "Failed to build CSV", err.Error())
	}

	filename := fmt.Sprintf("wa_messages_%s.csv", time.Now().Format("20060102_150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, "text/csv", []byte(data))
}

func listStatusLogs(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.WaStatusLog{})

	if tenant := strings.TrimSpace(c.QueryParam("tenant")); tenant != "" {
		db = db.Where("tenant_id = ?", tenant)
	}
	if sess := strings.TrimSpace(c.QueryParam("session")); sess != "" {
		db = db.Where("session_id = ?", sess)
	}
	if start := strings.TrimSpace(c.QueryParam("start")); start != "" {
		if t, err := dateparse.ParseLocal(start); err == nil {
			db = db.Where("created_at >= ?", t)
		}
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query status logs", err.Error())
	}

	var logs []domain.WaStatusLog
	if err := db.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query status logs", err.Error())
	}
	return paged(c, logs, total, page, pageSize)
}
