// Package bridge is the local control surface of the conversation core: a
// small authenticated HTTP API plus a websocket stream of conversation
// events. It consumes the core; the core never calls back into it.
package bridge

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatcore/internal/archive"
	"chatcore/internal/config"
	"chatcore/internal/core"
	"chatcore/internal/middleware"
	"chatcore/internal/redis"
	"chatcore/pkg/logger"
)

var (
	ReleaseMode = "release"
	TestMode    = "test"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bridge binds to loopback; cross-origin pages never reach it.
		return true
	},
}

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger

	core    *core.Core
	hub     *Hub
	tokens  *TokenService
	store   *archive.Store
	limiter *redis.RateLimiter
}

func New(cfg *config.Config, c *core.Core, tokens *TokenService, store *archive.Store, limiter *redis.RateLimiter, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		httpServer: &http.Server{
			Addr:    cfg.BridgeAddr,
			Handler: engine,
		},
		engine:  engine,
		config:  cfg,
		logger:  l.Named("bridge"),
		core:    c,
		hub:     NewHub(c, l),
		tokens:  tokens,
		store:   store,
		limiter: limiter,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.POST("/v1/token", middleware.TokenRateLimitMiddleware(s.limiter), s.issueToken)

	v1 := s.engine.Group("/v1", middleware.AuthMiddleware(s.tokens))
	{
		v1.GET("/policy", s.policy)
		v1.GET("/events", s.pendingEvents)
		v1.GET("/conversations/:jid/history", s.history)
		v1.GET("/search", s.search)
		v1.GET("/stream", s.stream)
	}
}

// Start serves until SIGTERM/SIGINT handling in main calls Shutdown.
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Infof("bridge listening on %s", s.config.BridgeAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
}

func (s *Server) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("secret required", "INVALID_INPUT"))
		return
	}
	token, err := s.tokens.Issue(req.Secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"token": token}))
}

func (s *Server) policy(c *gin.Context) {
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{
		"window_mode":    string(s.core.Mode()),
		"merge_accounts": s.config.MergeAccounts,
		"max_rows":       s.config.MaxRows,
	}))
}

func (s *Server) pendingEvents(c *gin.Context) {
	account := c.Query("account")
	if account == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("account required", "INVALID_INPUT"))
		return
	}
	jid := c.Query("jid")
	if jid == "" {
		c.JSON(http.StatusOK, NewSuccessResponse(gin.H{
			"count": s.core.PendingCount(account),
		}))
		return
	}
	events := s.core.PendingEvents(account, jid)
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"events": events}))
}

func (s *Server) history(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("archive disabled", "ARCHIVE_DISABLED"))
		return
	}
	account := c.Query("account")
	jid := c.Param("jid")
	if account == "" || jid == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("account and jid required", "INVALID_INPUT"))
		return
	}
	before := time.Now()
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse("invalid before timestamp", "INVALID_INPUT"))
			return
		}
		before = parsed
	}
	limit := intQuery(c, "limit", 50)

	page, err := s.store.HistoryPage(account, jid, before, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error(), "INTERNAL_ERROR"))
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"messages": page}))
}

func (s *Server) search(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("archive disabled", "ARCHIVE_DISABLED"))
		return
	}
	account := c.Query("account")
	query := c.Query("q")
	if account == "" || query == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse("account and q required", "INVALID_INPUT"))
		return
	}
	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse("invalid from timestamp", "INVALID_INPUT"))
			return
		}
		from = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse("invalid to timestamp", "INVALID_INPUT"))
			return
		}
		to = &parsed
	}
	limit := intQuery(c, "limit", 50)

	hits, err := s.store.Search(account, c.Query("jid"), query, from, to, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error(), "INVALID_INPUT"))
		return
	}
	c.JSON(http.StatusOK, NewSuccessResponse(gin.H{"hits": hits}))
}

func (s *Server) stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	s.hub.register <- NewClient(s.hub, conn)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
