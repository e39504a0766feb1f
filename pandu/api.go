package pandu

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// API is the small HTTP surface exposed alongside the bot: a health endpoint
// (which doubles as the keep-alive target on free hosting tiers) and a
// read-only view of the key pool.
type API struct {
	config     *APIConfig
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener
	p          *Pandu
}

func newAPI(p *Pandu, config *APIConfig) (*API, error) {
	api := &API{
		config: config,
		logger: newLogger("api", config.LogLevel),
		p:      p,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(api.requestLogger())
	if len(config.CORS.AllowOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins: config.CORS.AllowOrigins,
			AllowMethods: config.CORS.AllowMethods,
			AllowHeaders: config.CORS.AllowHeaders,
			MaxAge:       config.CORS.MaxAge,
		}))
	}

	engine.GET("/health", api.health)
	engine.GET("/api/pool", api.poolStatus)
	engine.GET("/api/providers", api.providers)

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	listener, err := net.Listen(config.ListenNetwork, config.Listen)
	if err != nil {
		return nil, fmt.Errorf("error listening on %s: %w", config.Listen, err)
	}
	api.listener = listener

	return api, nil
}

func (a *API) serve() error {
	a.logger.Info("api listening", "addr", a.listener.Addr().String())
	err := a.httpServer.Serve(a.listener)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"discord":         a.p.discord.connected.Load(),
		"store_connected": a.p.keyPool.Connected(),
		"uptime":          time.Since(a.p.startedAt).Round(time.Second).String(),
	})
}

func (a *API) poolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected": a.p.keyPool.Connected(),
		"providers": a.p.keyPool.PoolStatus(c.Request.Context()),
	})
}

func (a *API) providers(c *gin.Context) {
	c.JSON(http.StatusOK, aiProviders)
}
