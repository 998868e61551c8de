package api

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/catalog"
	"github.com/effective-security/sdragent/engine"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/sdragent/servers"
	"github.com/effective-security/sdragent/session"
	"github.com/effective-security/sdragent/storage"
	"github.com/labstack/echo/v5"
)

func (s *Server) chat(c *echo.Context) error {
	var req engine.TurnRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	res, err := s.engine.ProcessTurn(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// InvalidateResponse is the body of DELETE /cache/invalidate
type InvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

func (s *Server) cacheStats(c *echo.Context) error {
	stats, err := s.cache.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) cacheClear(c *echo.Context) error {
	if err := s.cache.Clear(c.Request().Context()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) cacheInvalidate(c *echo.Context) error {
	pattern := c.QueryParam("pattern")
	if pattern == "" {
		return errors.WithMessage(engine.ErrInvalidRequest, "pattern is required")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errors.WithMessagef(engine.ErrInvalidRequest, "invalid pattern %q", pattern)
	}
	n, err := s.cache.InvalidatePattern(c.Request().Context(), re)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, InvalidateResponse{Invalidated: n})
}

func (s *Server) listServers(c *echo.Context) error {
	list, err := s.servers.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createServer(c *echo.Context) error {
	var d gateway.Descriptor
	if err := c.Bind(&d); err != nil {
		return err
	}
	srv, err := s.servers.Create(c.Request().Context(), &d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, srv)
}

func (s *Server) getServer(c *echo.Context) error {
	srv, err := s.servers.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, srv)
}

func (s *Server) connectServer(c *echo.Context) error {
	srv, err := s.servers.Connect(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, srv)
}

func (s *Server) testServer(c *echo.Context) error {
	res, err := s.servers.Test(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) deleteServer(c *echo.Context) error {
	if err := s.servers.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) patchServer(c *echo.Context) error {
	var p servers.Patch
	if err := c.Bind(&p); err != nil {
		return err
	}
	srv, err := s.servers.Patch(c.Request().Context(), c.Param("id"), &p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, srv)
}

func (s *Server) listSessions(c *echo.Context) error {
	list, err := s.engine.Sessions().List(c.Request().Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*session.Info{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getSession(c *echo.Context) error {
	sess, err := s.engine.Sessions().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *echo.Context) error {
	if err := s.engine.Sessions().Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listRankings(c *echo.Context) error {
	limit := DefaultRankingsLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return errors.WithMessagef(engine.ErrInvalidRequest, "invalid limit %q", v)
		}
		limit = n
	}
	list, err := s.store.ListRankings(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*storage.Ranking{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) listTools(c *echo.Context) error {
	registry, err := s.catalog.Build(c.Request().Context())
	if err != nil {
		return err
	}
	list := registry.Tools()
	if list == nil {
		list = []catalog.ToolDescriptor{}
	}
	return c.JSON(http.StatusOK, list)
}
