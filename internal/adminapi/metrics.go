package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/metrics"
)

func registerMetricRoutes() {
	webserver.ApiGET("/metrics/:name", getMetricSeries)
}

var metricNames = map[string]string{
	"message_sent":    metrics.WhatsappMessageSent,
	"message_failed":  metrics.WhatsappMessageFailed,
	"message_inbound": metrics.WhatsappMessageInbound,
	"connect":         metrics.WhatsappConnect,
	"reconnect":       metrics.WhatsappReconnect,
	"logged_out":      metrics.WhatsappLoggedOut,
	"cpu":             metrics.SystemCpuUsage,
	"mem":             metrics.SystemMemUsage,
}

// getMetricSeries returns raw datapoints for one named metric, default
// window is the last 24 hours.
func getMetricSeries(c echo.Context) error {
	name, known := metricNames[c.Param("name")]
	if !known {
		return fail(c, http.StatusNotFound, "UNKNOWN_METRIC", "Unknown metric name", nil)
	}

	end := time.Now()
	start := end.Add(-24 * time.Hour)
	if s := strings.TrimSpace(c.QueryParam("start")); s != "" {
		if t, err := dateparse.ParseLocal(s); err == nil {
			start = t
		}
	}
	if e := strings.TrimSpace(c.QueryParam("end")); e != "" {
		if t, err := dateparse.ParseLocal(e); err == nil {
			end = t
		}
	}

	points, err := metrics.Select(name, start.Unix(), end.Unix())
	if err != nil {
		return fail(c, http.StatusInternalServerError, "METRIC_ERROR", "Failed to query metric", err.Error())
	}

	type point struct {
		Timestamp int64   `json:"timestamp"`
		Value     float64 `json:"value"`
	}
	out := make([]point, 0, len(points))
	for _, p := range points {
		out = append(out, point{Timestamp: p.Timestamp, Value: p.Value})
	}
	return ok(c, map[string]interface{}{"metric": name, "points": out})
}
