package adminapi

import (
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
)

func registerSessionRoutes() {
	webserver.ApiPOST("/wa/:tenant/:session/connect", postSessionConnect)
	webserver.ApiPOST("/wa/:tenant/:session/disconnect", postSessionDisconnect)
	webserver.ApiGET("/wa/:tenant/:session/status", getSessionStatus)
	webserver.ApiGET("/wa/:tenant/:session/qr", getSessionQR)
	webserver.ApiGET("/wa/:tenant/:session/subscribe", getSessionSubscribe)
	webserver.ApiGET("/wa/:tenant/sessions", listTenantSessions)
}

func entryView(e session.Entry) map[string]interface{} {
	v := map[string]interface{}{
		"tenant":             e.Key.Tenant,
		"session":            e.Key.Session,
		"status":             string(e.Status),
		"jid":                e.Jid,
		"is_default":         e.IsDefault,
		"reconnect_attempts": e.ReconnectAttempts,
	}
	if !e.LastActivityAt.IsZero() {
		v["last_activity_at"] = e.LastActivityAt
	}
	if e.Status == session.StatusPairingRequired && e.QRPayload != "" {
		v["qr"] = e.QRPayload
	}
	return v
}

// postSessionConnect starts or joins a connect attempt and waits for it
// to settle, within the configured bound.
func postSessionConnect(c echo.Context) error {
	tenant, sess, valid := tenantSession(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant and session are required", nil)
	}

	entry, err := deps.supervisor.Connect(c.Request().Context(), tenant, sess)
	switch {
	case errors.Is(err, session.ErrBusy):
		return fail(c, http.StatusConflict, "CONNECT_BUSY",
			"Connect attempt still in progress", entryView(entry))
	case err != nil:
		zap.L().Warn("adminapi: connect failed",
			zap.String("tenant", tenant), zap.String("session", sess), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to connect session", err.Error())
	}
	return ok(c, entryView(entry))
}

func postSessionDisconnect(c echo.Context) error {
	tenant, sess, valid := tenantSession(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant and session are required", nil)
	}
	if err := deps.supervisor.Disconnect(tenant, sess); err != nil {
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Failed to disconnect session", err.Error())
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

// getSessionStatus never fails; unknown sessions report absent.
func getSessionStatus(c echo.Context) error {
	tenant, sess, valid := tenantSession(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant and session are required", nil)
	}
	return ok(c, entryView(deps.supervisor.GetStatus(tenant, sess)))
}

func getSessionQR(c echo.Context) error {
	tenant, sess, valid := tenantSession(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant and session are required", nil)
	}
	code := deps.supervisor.PairingPayload(tenant, sess)
	return ok(c, map[string]interface{}{"code": code, "has_qr": code != ""})
}

func listTenantSessions(c echo.Context) error {
	tenant := c.Param("tenant")
	if tenant == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant is required", nil)
	}
	entries := deps.supervisor.ListTenant(tenant)
	views := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView(e))
	}
	return ok(c, map[string]interface{}{"sessions": views})
}

// getSessionSubscribe streams status transitions over SSE until the
// client goes away. A slow client drops updates rather than blocking
// the fan-out.
func getSessionSubscribe(c echo.Context) error {
	tenant, sess, valid := tenantSession(c)
	if !valid {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant and session are required", nil)
	}
	key := session.Key{Tenant: tenant, Session: sess}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	updates := make(chan session.StatusUpdate, 16)
	listenerID := common.UUIDString()
	err := deps.fanout.Subscribe(key, listenerID, func(u session.StatusUpdate) {
		select {
		case updates <- u:
		default:
		}
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SUBSCRIBE_FAILED", "Failed to subscribe", err.Error())
	}
	defer deps.fanout.Unsubscribe(key, listenerID)

	writeEvent := func(u session.StatusUpdate) error {
		data, err := jsoniter.Marshal(u)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
			return err
		}
		resp.Flush()
		return nil
	}

	// Initial snapshot so the client does not wait for a transition.
	now := deps.supervisor.GetStatus(tenant, sess)
	_ = writeEvent(session.StatusUpdate{
		Key: key, Tenant: tenant, Session: sess,
		From: now.Status, To: now.Status, QR: now.QRPayload, At: time.Now(),
	})

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case u := <-updates:
			if err := writeEvent(u); err != nil {
				return nil
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
