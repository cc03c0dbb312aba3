// Package api exposes the HTTP surfaces: the OpenAI/Anthropic/Gemini chat
// ingress under /v1 and /v1beta, the management endpoints under
// /api/v0/management, and the /images file server for cached media.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/logging"
	"github.com/router-for-me/WebProxyAPI/internal/pool"
	"github.com/router-for-me/WebProxyAPI/internal/provider/deepseek"
	"github.com/router-for-me/WebProxyAPI/internal/provider/grok"
	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/tokencache"
)

// Server wires the gin engine to the shared components. The provider fields
// are nil when the project is disabled; handlers that need them check first.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	cache    *tokencache.Cache
	selector *pool.Selector
	deepseek *deepseek.Adapter
	grok     *grok.Adapter

	engine   *gin.Engine
	httpSrv  *http.Server
	sessions *sessionStore
}

// New builds the server and registers all routes.
func New(cfg *config.Config, reg *registry.Registry, cache *tokencache.Cache, selector *pool.Selector, ds *deepseek.Adapter, gk *grok.Adapter) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		cache:    cache,
		selector: selector,
		deepseek: ds,
		grok:     gk,
		engine:   gin.New(),
		sessions: newSessionStore(),
	}
	s.engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/v1/models", s.requireBearerKey, s.handleListModels)
	s.engine.POST("/v1/chat/completions", s.requireBearerKey, s.handleOpenAIChat)
	s.engine.POST("/v1/messages", s.requireBearerKey, s.handleClaudeMessages)
	s.engine.POST("/v1beta/models/:modelAction", s.requireGeminiKey, s.handleGemini)

	management := s.engine.Group("/api/v0/management")
	management.POST("/login", s.handleLogin)
	management.POST("/logout", s.handleLogout)
	authed := management.Group("", s.requireSession)
	authed.GET("/check", s.handleCheck)
	authed.GET("/projects/list", s.handleProjectsList)
	authed.GET("/tokens/list", s.handleTokensList)
	authed.GET("/tokens/get", s.handleTokensGet)
	authed.POST("/tokens/add", s.handleTokensAdd)
	authed.POST("/tokens/delete", s.handleTokensDelete)
	authed.GET("/cache/stats", s.handleCacheStats)

	s.engine.GET("/images/:kind/:file", s.handleMedia)
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the engine for httptest.
func (s *Server) Handler() http.Handler { return s.engine }
