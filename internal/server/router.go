package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/samgo/internal/achievement"
	"github.com/loykin/samgo/internal/auth"
	"github.com/loykin/samgo/internal/config"
	"github.com/loykin/samgo/internal/metrics"
	"github.com/loykin/samgo/internal/service"
	"github.com/loykin/samgo/internal/supervisor"
	samgotls "github.com/loykin/samgo/internal/tls"
)

// Router provides embeddable HTTP handlers driving one supervisor.
// Endpoints, relative to basePath:
//
//	POST /launch        body: {"app_id": 480} or ?app_id=480
//	POST /refresh
//	GET  /mutations     pending queue
//	POST /mutations     body: {"id": "...", "achieved": true, "queue": false}
//	POST /commit
//	GET  /verify
//	POST /terminate
//	GET  /status
//	GET  /achievements  cached snapshot
//	GET  /ws            websocket view updates (when a hub is set)
//
// /metrics is served at the root when enabled and is not authenticated.
type Router struct {
	sup      *supervisor.Supervisor
	basePath string
	opts     Options
}

type Options struct {
	BasePath string
	// Hub serves /ws; nil disables the endpoint.
	Hub     http.Handler
	Auth    *auth.Authenticator
	Metrics bool
	Logger  *slog.Logger
}

func NewRouter(sup *supervisor.Supervisor, opts Options) *Router {
	if opts.Auth == nil {
		opts.Auth = auth.New(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Router{sup: sup, basePath: sanitizeBase(opts.BasePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.Use(r.opts.Auth.GinAuth())
	group.POST("/launch", r.handleLaunch)
	group.POST("/refresh", r.handleRefresh)
	group.GET("/mutations", r.handlePending)
	group.POST("/mutations", r.handleMutation)
	group.POST("/commit", r.handleCommit)
	group.GET("/verify", r.handleVerify)
	group.POST("/terminate", r.handleTerminate)
	group.GET("/status", r.handleStatus)
	group.GET("/achievements", r.handleAchievements)
	if r.opts.Hub != nil {
		group.GET("/ws", gin.WrapH(r.opts.Hub))
	}
	return g
}

// NewServer builds the HTTP server for cfg. The write timeout covers a launch
// waiting for the emulated game to become ready.
func NewServer(cfg config.ServerConfig, h http.Handler) (*http.Server, error) {
	tc, err := samgotls.Setup(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           h,
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}, nil
}

// ListenAndServe serves HTTPS when the server carries a TLS config.
func ListenAndServe(srv *http.Server) error {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type LaunchRequest struct {
	AppID uint32 `json:"app_id"`
}

type LaunchResponse struct {
	OK     bool               `json:"ok"`
	Handle *supervisor.Handle `json:"handle,omitempty"`
}

type MutationRequest struct {
	ID       string `json:"id"`
	Achieved bool   `json:"achieved"`
	// Queue only records the change; it is sent by the next commit.
	Queue bool `json:"queue"`
}

type CommitResponse struct {
	Sent int `json:"sent"`
}

type VerifyResponse struct {
	Unconfirmed []string `json:"unconfirmed"`
}

type AchievementsResponse struct {
	Count        int                  `json:"count"`
	Achievements []achievement.Record `json:"achievements"`
}

// statusFor maps supervisor errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning), errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		r.opts.Logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (r *Router) handleLaunch(c *gin.Context) {
	var req LaunchRequest
	if q := c.Query("app_id"); q != "" {
		id, err := service.ParseAppID(q)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		req.AppID = id
	} else if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.AppID == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "app_id required"})
		return
	}
	if err := r.sup.Launch(c.Request.Context(), req.AppID); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, LaunchResponse{OK: true, Handle: r.sup.Status().Handle})
}

func (r *Router) handleRefresh(c *gin.Context) {
	if err := r.sup.RequestRefresh(); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handlePending(c *gin.Context) {
	p := r.sup.Queue().Pending()
	if p == nil {
		p = []supervisor.PendingMutation{}
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleMutation(c *gin.Context) {
	var req MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.ID == "" || len(req.ID) >= achievement.MaxIDLen {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "id required, at most 127 bytes"})
		return
	}
	if req.Queue {
		r.sup.QueueMutation(req.ID, req.Achieved)
		writeJSON(c, http.StatusAccepted, okResp{OK: true})
		return
	}
	if err := r.sup.RequestMutation(req.ID, req.Achieved); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCommit(c *gin.Context) {
	n, err := r.sup.Commit()
	if err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusOK, CommitResponse{Sent: n})
}

func (r *Router) handleVerify(c *gin.Context) {
	ids, err := r.sup.Verify()
	if err != nil {
		r.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(c, http.StatusOK, VerifyResponse{Unconfirmed: ids})
}

func (r *Router) handleTerminate(c *gin.Context) {
	if err := r.sup.Terminate(); err != nil {
		r.fail(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status())
}

func (r *Router) handleAchievements(c *gin.Context) {
	snap, ok := r.sup.Snapshot()
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no snapshot cached"})
		return
	}
	writeJSON(c, http.StatusOK, AchievementsResponse{Count: snap.Len(), Achievements: snap.Records()})
}
