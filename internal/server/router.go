package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/pm2ctl/internal/ecosystem"
	"github.com/loykin/pm2ctl/internal/metrics"
	"github.com/loykin/pm2ctl/internal/pm2"
)

// ProcessAPI is the process-control surface the router exposes.
// *control.Service satisfies it; tests substitute fakes.
type ProcessAPI interface {
	Verify(ctx context.Context) (string, error)
	List(ctx context.Context) ([]pm2.Record, error)
	Get(ctx context.Context, name string) (pm2.Record, error)
	Create(ctx context.Context, req ecosystem.Request) (pm2.Record, error)
	Delete(ctx context.Context, name string) error
	Start(ctx context.Context, name string) (pm2.Record, error)
	Stop(ctx context.Context, name string) (pm2.Record, error)
	Restart(ctx context.Context, name string) (pm2.Record, error)
}

// LogAPI is the log-access surface. *logs.Service satisfies it.
type LogAPI interface {
	Tail(ctx context.Context, name string, maxLines int) (pm2.Excerpt, error)
	Clear(ctx context.Context, name string) error
}

// Router provides embeddable HTTP handlers for the pm2 fleet.
// Endpoints under {basePath}:
//
//	GET    /healthz                   pm2 reachability and version
//	GET    /processes                 whole fleet
//	POST   /processes                 create, body: process request JSON
//	GET    /processes/:name           single record
//	DELETE /processes/:name           delete
//	POST   /processes/:name/start
//	POST   /processes/:name/stop
//	POST   /processes/:name/restart
//	GET    /processes/:name/logs      query: lines=N
//	DELETE /processes/:name/logs      truncate log streams
//	GET    /metrics                   prometheus exposition
type Router struct {
	procs    ProcessAPI
	logs     LogAPI
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath "/api" results in /api/processes etc.
func NewRouter(procs ProcessAPI, logs LogAPI, basePath string) *Router {
	return &Router{procs: procs, logs: logs, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/processes", r.handleList)
	group.POST("/processes", r.handleCreate)
	group.GET("/processes/:name", r.handleGet)
	group.DELETE("/processes/:name", r.handleDelete)
	group.POST("/processes/:name/start", r.action(r.procs.Start))
	group.POST("/processes/:name/stop", r.action(r.procs.Stop))
	group.POST("/processes/:name/restart", r.action(r.procs.Restart))
	group.GET("/processes/:name/logs", r.handleLogs)
	group.DELETE("/processes/:name/logs", r.handleLogClear)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via the returned http.Server.
func NewServer(addr, basePath string, procs ProcessAPI, logs LogAPI) (*http.Server, error) {
	r := NewRouter(procs, logs, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	OK      bool   `json:"ok"`
	Version string `json:"version,omitempty"`
}

func (r *Router) handleHealth(c *gin.Context) {
	version, err := r.procs.Verify(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, healthResp{OK: false})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{OK: true, Version: version})
}

func (r *Router) handleList(c *gin.Context) {
	records, err := r.procs.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []pm2.Record{}
	}
	writeJSON(c, http.StatusOK, records)
}

func (r *Router) handleGet(c *gin.Context) {
	rec, err := r.procs.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleCreate(c *gin.Context) {
	var req ecosystem.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rec, err := r.procs.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleDelete(c *gin.Context) {
	if err := r.procs.Delete(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) action(op func(ctx context.Context, name string) (pm2.Record, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := op(c.Request.Context(), c.Param("name"))
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, rec)
	}
}

func (r *Router) handleLogs(c *gin.Context) {
	lines := 0
	if q := c.Query("lines"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a positive integer"})
			return
		}
		lines = n
	}
	ex, err := r.logs.Tail(c.Request.Context(), c.Param("name"), lines)
	if err != nil {
		writeError(c, err)
		return
	}
	if ex.Lines == nil {
		ex.Lines = []string{}
	}
	writeJSON(c, http.StatusOK, ex)
}

func (r *Router) handleLogClear(c *gin.Context) {
	if err := r.logs.Clear(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	kind := ""
	if k, ok := pm2.KindOf(err); ok {
		kind = k.String()
		switch k {
		case pm2.KindNotFound:
			code = http.StatusNotFound
		case pm2.KindAlreadyExists:
			code = http.StatusConflict
		case pm2.KindInvalid:
			code = http.StatusBadRequest
		case pm2.KindTimeout:
			code = http.StatusGatewayTimeout
		case pm2.KindParse, pm2.KindCommand:
			code = http.StatusBadGateway
		}
	}
	writeJSON(c, code, errorResp{Error: err.Error(), Kind: kind})
}
