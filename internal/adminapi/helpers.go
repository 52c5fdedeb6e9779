// Package adminapi implements the admin HTTP handlers: session
// lifecycle control, bulk dispatch, recipient management and message
// outcome queries.
package adminapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/dispatch"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
	"gorm.io/gorm"
)

// deps carries the wired services the handlers act on.
var deps struct {
	web        *webserver.WebServer
	supervisor *session.Supervisor
	fanout     *session.Fanout
	dispatcher *dispatch.Dispatcher
}

// Init wires the services and registers all routes.
func Init(web *webserver.WebServer, sup *session.Supervisor, fan *session.Fanout, disp *dispatch.Dispatcher) {
	deps.web = web
	deps.supervisor = sup
	deps.fanout = fan
	deps.dispatcher = disp

	registerHealthRoutes()
	registerAuthRoutes()
	registerSessionRoutes()
	registerBulkRoutes()
	registerCustomerRoutes()
	registerOutcomeRoutes()
	registerMetricRoutes()
}

func registerHealthRoutes() {
	webserver.PubGET("/health", getHealth)
}

// getHealth is the unauthenticated liveness probe.
func getHealth(c echo.Context) error {
	return ok(c, map[string]interface{}{
		"status": "up",
		"time":   time.Now(),
	})
}

// GetDB returns the request-scoped database handle.
func GetDB(c echo.Context) *gorm.DB {
	return c.Get("db").(*gorm.DB)
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(200, map[string]interface{}{
		"code": 0,
		"data": data,
	})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, map[string]interface{}{
		"code":   1,
		"error":  code,
		"msg":    msg,
		"detail": detail,
	})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(200, map[string]interface{}{
		"code":      0,
		"data":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// tenantSession extracts and validates the tenant/session pair shared
// by the session lifecycle routes.
func tenantSession(c echo.Context) (tenant, sess string, ok bool) {
	tenant = strings.TrimSpace(c.Param("tenant"))
	sess = strings.TrimSpace(c.Param("session"))
	return tenant, sess, tenant != "" && sess != ""
}
