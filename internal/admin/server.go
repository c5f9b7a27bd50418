// Package admin serves a small read-mostly HTTP API about a running
// client: health, connection status, DCC sessions, transfer history and
// Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ene/internal/dcc"
	"ene/internal/metrics"
	"ene/internal/store"
	"ene/util"
)

// DefaultHistoryLimit is the page size of /history without ?limit.
const DefaultHistoryLimit = 50

// Status describes the IRC side of the client.
type Status interface {
	Nick() string
	Connected() bool
	ServerInfo() map[string]string
}

// Sessions lists and controls live DCC sessions.
type Sessions interface {
	Sessions() []dcc.Info
	Find(id string) (*dcc.Session, bool)
}

// History reads finished transfers.
type History interface {
	Recent(ctx context.Context, n int) ([]store.Transfer, error)
	ByPeer(ctx context.Context, peer string) ([]store.Transfer, error)
}

// Options wires the server to the client.  History may be nil when no
// history database is configured.
type Options struct {
	Status   Status
	Sessions Sessions
	History  History
	Metrics  *metrics.Collector
	Logger   *util.Logger
}

// Server is the admin HTTP endpoint.
type Server struct {
	opts Options
	e    *echo.Echo
}

// New builds the router.  Nothing listens until Serve.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = util.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	s := &Server{opts: opts, e: echo.New()}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.route(s.e)
	return s
}

func (s *Server) route(e *echo.Echo) {
	e.Use(s.logRequests)

	e.GET("/healthz", s.health)
	e.GET("/status", s.status)
	e.GET("/dcc", s.listSessions)
	e.GET("/dcc/:id", s.getSession)
	e.DELETE("/dcc/:id", s.closeSession)
	e.GET("/history", s.history)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(
		s.opts.Metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)))
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.e }

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.e.Listener = ln
	errc := make(chan error, 1)
	go func() { errc <- s.e.Start("") }()
	s.opts.Logger.Info("admin API listening on %s", ln.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.e.Shutdown(shutCtx); err != nil {
		return err
	}
	<-errc
	return nil
}

// ── middleware ───────────────────────────────────────────────────────

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.opts.Logger.Debug("admin %s %s %d (%v)",
			c.Request().Method, c.Request().URL.Path, c.Response().Status, time.Since(start))
		return nil
	}
}

// ── handlers ─────────────────────────────────────────────────────────

func (s *Server) health(c echo.Context) error {
	if s.opts.Status == nil || !s.opts.Status.Connected() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Nick      string            `json:"nick"`
	Connected bool              `json:"connected"`
	Server    map[string]string `json:"server,omitempty"`
	Sessions  int               `json:"dcc_sessions"`
	Metrics   metrics.Snapshot  `json:"metrics"`
}

func (s *Server) status(c echo.Context) error {
	resp := statusResponse{Metrics: s.opts.Metrics.Snapshot()}
	if st := s.opts.Status; st != nil {
		resp.Nick = st.Nick()
		resp.Connected = st.Connected()
		resp.Server = st.ServerInfo()
	}
	if s.opts.Sessions != nil {
		resp.Sessions = len(s.opts.Sessions.Sessions())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listSessions(c echo.Context) error {
	infos := []dcc.Info{}
	if s.opts.Sessions != nil {
		infos = append(infos, s.opts.Sessions.Sessions()...)
	}
	return c.JSON(http.StatusOK, infos)
}

func (s *Server) session(c echo.Context) (*dcc.Session, error) {
	if s.opts.Sessions == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	sess, ok := s.opts.Sessions.Find(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "no such session")
	}
	return sess, nil
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess.Info())
}

// closeSession aborts a live session; the peer sees the connection
// drop.
func (s *Server) closeSession(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Close(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.opts.Logger.Info("admin closed dcc session %s", sess.ID)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) history(c echo.Context) error {
	if s.opts.History == nil {
		return echo.NewHTTPError(http.StatusNotFound, "transfer history is disabled")
	}
	ctx := c.Request().Context()

	if peer := c.QueryParam("peer"); peer != "" {
		rows, err := s.opts.History.ByPeer(ctx, peer)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, nonNil(rows))
	}

	limit := DefaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	rows, err := s.opts.History.Recent(ctx, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, nonNil(rows))
}

func nonNil(rows []store.Transfer) []store.Transfer {
	if rows == nil {
		return []store.Transfer{}
	}
	return rows
}
