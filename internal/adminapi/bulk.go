package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/dispatch"
	"github.com/talkincode/wagate/internal/webserver"
	"go.uber.org/zap"
)

func registerBulkRoutes() {
	webserver.ApiPOST("/wa/bulk", postBulkStart)
	webserver.ApiGET("/wa/bulk/:id", getBulkStatus)
	webserver.ApiPOST("/wa/bulk/:id/cancel", postBulkCancel)
}

// postBulkStart validates and enqueues a bulk job. The response returns
// immediately with the job id; progress is polled via getBulkStatus.
func postBulkStart(c echo.Context) error {
	var payload struct {
		Tenant     string                 `json:"tenant"`
		Session    string                 `json:"session"`
		Recipients []string               `json:"recipients"`
		Message    map[string]interface{} `json:"message"`
		Pace       int                    `json:"pace"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	spec, err := dispatch.DecodeMessageSpec(payload.Message)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_MESSAGE", "Unable to parse message spec", err.Error())
	}

	jobID, err := deps.dispatcher.StartJob(c.Request().Context(),
		payload.Tenant, payload.Session, payload.Recipients, spec, payload.Pace)
	if err != nil {
		if errors.Is(err, dispatch.ErrValidation) {
			return fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		}
		zap.L().Error("adminapi: start bulk job failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "START_FAILED", "Failed to start bulk job", err.Error())
	}

	zap.L().Info("adminapi: bulk job started",
		zap.String("job_id", jobID),
		zap.String("tenant", payload.Tenant),
		zap.Int("recipients", len(payload.Recipients)))
	return ok(c, map[string]interface{}{"job_id": jobID})
}

func getBulkStatus(c echo.Context) error {
	view, err := deps.dispatcher.Status(c.Param("id"))
	if err != nil {
		return fail(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found or expired", nil)
	}
	return ok(c, view)
}

// postBulkCancel requests cooperative cancellation; in-flight sends
// still complete.
func postBulkCancel(c echo.Context) error {
	if err := deps.dispatcher.Cancel(c.Param("id")); err != nil {
		return fail(c, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found or expired", nil)
	}
	return ok(c, map[string]interface{}{"cancelled": true})
}
