package adminapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
)

func registerAuthRoutes() {
	webserver.PubPOST("/login", postLogin)
}

// postLogin verifies operator credentials and issues a bearer token.
func postLogin(c echo.Context) error {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Username == "" || payload.Password == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "username and password are required", nil)
	}

	var opr domain.SysOpr
	if err := GetDB(c).Where("username = ?", payload.Username).First(&opr).Error; err != nil {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}
	hashed := common.Sha256HashWithSalt(payload.Password, common.GetSecretSalt())
	if opr.Password != hashed || opr.Status != common.ENABLED {
		return fail(c, http.StatusUnauthorized, "AUTH_FAILED", "Invalid username or password", nil)
	}

	token, err := deps.web.IssueToken(opr.Username, opr.Level)
	if err != nil {
		zap.L().Error("adminapi: issue token failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "TOKEN_FAILED", "Failed to issue token", nil)
	}

	GetDB(c).Model(&domain.SysOpr{}).Where("id = ?", opr.ID).
		Update("last_login", time.Now())

	zap.L().Info("adminapi: operator login", zap.String("username", opr.Username))
	return ok(c, map[string]interface{}{
		"token": token,
		"level": opr.Level,
	})
}
