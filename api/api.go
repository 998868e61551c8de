// Package api provides the HTTP surface of the agent:
// chat turns, cache administration, external server lifecycle, sessions and rankings.
package api

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/cache"
	"github.com/effective-security/sdragent/engine"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/servers"
	"github.com/effective-security/sdragent/session"
	"github.com/effective-security/sdragent/storage"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sdragent", "api")

const (
	// BasePath is the prefix of all routes
	BasePath = "/api/v1"
	// DefaultBodyLimit bounds the request body
	DefaultBodyLimit = 1 << 20
	// DefaultRankingsLimit is the page size of the rankings list
	DefaultRankingsLimit = 50
)

// ErrorResponse is the body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server serves the HTTP API
type Server struct {
	engine  *engine.Engine
	catalog engine.Catalog
	cache   cache.Cache
	servers *servers.Service
	store   storage.Storage
	echo    *echo.Echo
}

// New returns the API server
func New(e *engine.Engine, cat engine.Catalog, c cache.Cache, svc *servers.Service, store storage.Storage) *Server {
	s := &Server{
		engine:  e,
		catalog: cat,
		cache:   c,
		servers: svc,
		store:   store,
	}

	s.echo = echo.NewWithConfig(echo.Config{
		HTTPErrorHandler: s.handleError,
		Validator:        newValidator(),
	})
	s.echo.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.BodyLimit(DefaultBodyLimit),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:    true,
			LogURIPath:   true,
			LogStatus:    true,
			LogLatency:   true,
			LogRequestID: true,
			LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
				logger.ContextKV(c.Request().Context(), xlog.DEBUG,
					"method", v.Method,
					"path", v.URIPath,
					"status", v.Status,
					"latency", v.Latency.String(),
					"request_id", v.RequestID,
				)
				return nil
			},
		}),
	)
	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.echo.Group(BasePath)

	g.POST("/chat", s.chat)

	g.GET("/cache/stats", s.cacheStats)
	g.DELETE("/cache", s.cacheClear)
	g.DELETE("/cache/invalidate", s.cacheInvalidate)

	g.GET("/servers", s.listServers)
	g.POST("/servers", s.createServer)
	g.GET("/servers/:id", s.getServer)
	g.POST("/servers/:id/connect", s.connectServer)
	g.POST("/servers/:id/test", s.testServer)
	g.DELETE("/servers/:id", s.deleteServer)
	g.PATCH("/servers/:id", s.patchServer)

	g.GET("/sessions", s.listSessions)
	g.GET("/sessions/:id", s.getSession)
	g.DELETE("/sessions/:id", s.deleteSession)

	g.GET("/rankings", s.listRankings)
	g.GET("/tools", s.listTools)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves the API on the address until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	logger.ContextKV(ctx, xlog.INFO, "status", "starting", "address", addr)
	sc := echo.StartConfig{
		Address:         addr,
		HideBanner:      true,
		HidePort:        true,
		GracefulTimeout: 10 * time.Second,
	}
	if err := sc.Start(ctx, s.echo); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %s", addr)
	}
	return nil
}

func (s *Server) handleError(c *echo.Context, err error) {
	if r, _ := echo.UnwrapResponse(c.Response()); r != nil && r.Committed {
		return
	}

	code, msg := StatusOf(err)
	if code >= http.StatusInternalServerError {
		logger.ContextKV(c.Request().Context(), xlog.ERROR,
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"err", err.Error(),
		)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorResponse{Error: msg})
}

// StatusOf returns the HTTP status and the client message of the error
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, gateway.ErrInvalidDescriptor):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, servers.ErrConnectFailed):
		return http.StatusBadGateway, err.Error()
	}

	var sc echo.HTTPStatusCoder
	if errors.As(err, &sc) && sc.StatusCode() != 0 && sc.StatusCode() < http.StatusInternalServerError {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Message != "" {
			return sc.StatusCode(), he.Message
		}
		return sc.StatusCode(), http.StatusText(sc.StatusCode())
	}
	return http.StatusInternalServerError, "internal error"
}

type requestValidator struct {
	validate *validator.Validate
}

func newValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &requestValidator{validate: v}
}

func (v *requestValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.WithMessage(engine.ErrInvalidRequest, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" is "+fe.Tag())
	}
	return errors.WithMessage(engine.ErrInvalidRequest, strings.Join(msgs, "; "))
}
