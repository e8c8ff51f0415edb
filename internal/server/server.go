// Package server exposes the dispatcher over HTTP.
//
// Routes:
//
//	POST /system/action/handle   public actions
//	POST /internal/handle        also stack-internal actions, Basic auth with the internal password
//	GET  /health                 liveness plus the last committed position
//	GET  /metrics                Prometheus exposition
//
// Both handle routes take a JSON list of {"action": name, "data": [...]}
// and the acting user in X-User-Id, and answer with the dispatcher's
// response. A request failing with a lock
// conflict is dispatched again, up to the configured number of retries.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/metrics"
)

// UserHeader carries the acting user id on both handle routes.
const UserHeader = "X-User-Id"

// Dispatcher runs one request atomically.
type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Options configures a Server.
type Options struct {
	// InternalAuthPassword guards /internal/handle. Empty disables the route.
	InternalAuthPassword string
	LockRetries          int
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.Recorder
	// Position reports the last committed position for /health.
	Position func(ctx context.Context) (int64, error)
}

// Server is the HTTP transport around a Dispatcher.
type Server struct {
	dispatcher Dispatcher
	opts       Options
	router     *gin.Engine
}

// actionCall is one element of a handle request body.
type actionCall struct {
	Action string        `json:"action" binding:"required"`
	Data   []ir.IRObject `json:"data"`
}

// New builds the router.
func New(d Dispatcher, opts Options) *Server {
	s := &Server{dispatcher: d, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}
	r.POST("/system/action/handle", s.handlePublic)
	r.POST("/internal/handle", s.requireInternalAuth(), s.handleInternal)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("http server listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("http server shutting down")
	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.opts.Position != nil {
		pos, err := s.opts.Position(c.Request.Context())
		if err != nil {
			slog.Error("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		body["position"] = pos
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handlePublic(c *gin.Context) {
	if userID, ok := userFromHeader(c); ok {
		s.handle(c, userID, false)
	}
}

func (s *Server) handleInternal(c *gin.Context) {
	if userID, ok := userFromHeader(c); ok {
		s.handle(c, userID, true)
	}
}

// userFromHeader reads the acting user; a missing header means anonymous.
func userFromHeader(c *gin.Context) (int64, bool) {
	h := c.GetHeader(UserHeader)
	if h == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(h, 10, 64)
	if err != nil || id < 0 {
		c.JSON(http.StatusBadRequest, failure("Invalid "+UserHeader+" header."))
		return 0, false
	}
	return id, true
}

func (s *Server) handle(c *gin.Context, userID int64, internal bool) {
	var calls []actionCall
	if err := c.ShouldBindJSON(&calls); err != nil {
		c.JSON(http.StatusBadRequest, failure("Invalid JSON: "+err.Error()))
		return
	}
	if len(calls) == 0 {
		c.JSON(http.StatusBadRequest, failure("No actions given."))
		return
	}
	req := engine.Request{UserID: userID, Internal: internal}
	for _, call := range calls {
		req.Actions = append(req.Actions, engine.ActionRequest{Name: call.Action, Data: call.Data})
	}

	res, err := s.dispatch(c.Request.Context(), req)
	resp := engine.Respond(res, err)
	c.JSON(statusFor(resp), resp)
}

// dispatch runs req, repeating it while it fails with a lock conflict and
// retries remain.
func (s *Server) dispatch(ctx context.Context, req engine.Request) (*engine.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := s.dispatcher.Dispatch(ctx, req)
		if !errs.IsLockConflict(err) {
			return res, err
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.LockConflict()
		}
		if attempt >= s.opts.LockRetries || ctx.Err() != nil {
			return nil, err
		}
		slog.Debug("retrying after lock conflict", "attempt", attempt+1, "user_id", req.UserID)
		if s.opts.Metrics != nil {
			s.opts.Metrics.Retry()
		}
	}
}

func (s *Server) requireInternalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.InternalAuthPassword == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, failure("Internal route is disabled."))
			return
		}
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte(s.opts.InternalAuthPassword))
		got := strings.TrimSpace(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, failure("Wrong internal auth password."))
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}

func failure(msg string) engine.Response {
	return engine.Response{Success: false, Message: msg, Results: []any{}}
}

func statusFor(resp engine.Response) int {
	switch {
	case resp.Success:
		return http.StatusOK
	case resp.Kind == errs.KindInternal:
		return http.StatusInternalServerError
	case resp.Kind == errs.KindLockConflict:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
