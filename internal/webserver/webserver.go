// Package webserver hosts the admin HTTP API on echo. Route handlers
// live in the adminapi package and register themselves through the
// Api* helpers.
package webserver

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wagate/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var server *WebServer

type WebServer struct {
	cfg  *config.AppConfig
	db   *gorm.DB
	root *echo.Echo
	api  *echo.Group
	pub  *echo.Group
}

// jsonSerializer swaps echo's encoding/json for jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := jsoniter.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	return jsoniter.NewDecoder(c.Request().Body).Decode(i)
}

func Init(cfg *config.AppConfig, db *gorm.DB) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	s := &WebServer{cfg: cfg, db: db, root: e}
	s.pub = e.Group("/api")
	s.api = e.Group("/api", s.jwtMiddleware())
	s.api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("db", db)
			return next(c)
		}
	})
	s.pub.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("db", db)
			return next(c)
		}
	})
	server = s
	return s
}

// Listen blocks serving the admin API.
func Listen() error {
	addr := fmt.Sprintf("%s:%d", server.cfg.Web.Host, server.cfg.Web.Port)
	zap.L().Info("admin api listening", zap.String("addr", addr))
	server.root.Server.ReadHeaderTimeout = 10 * time.Second
	return server.root.Start(addr)
}

// Shutdown stops the HTTP listener.
func Shutdown() {
	if server != nil {
		_ = server.root.Close()
	}
}

// ApiGET registers an authenticated GET route under /api.
func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// PubPOST registers an unauthenticated POST route under /api; only the
// login endpoint should need this.
func PubPOST(path string, h echo.HandlerFunc) {
	server.pub.POST(path, h)
}

// PubGET registers an unauthenticated GET route under /api.
func PubGET(path string, h echo.HandlerFunc) {
	server.pub.GET(path, h)
}
