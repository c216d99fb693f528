package http

import (
	"context"
	"time"

	"github.com/dkeye/dumpvoice/internal/adapters/signal"
	"github.com/dkeye/dumpvoice/internal/config"
	"github.com/dkeye/dumpvoice/internal/metrics"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SignalWSController, m *metrics.Metrics) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("VoiceSessions", store))

	h := &handlers{orch: ctl.Orch, gate: ctl.Gate}

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.GET("/ws/voice/:channel_id", func(c *gin.Context) {
		ctl.HandleVoice(ctx, c)
	})

	api := r.Group("/api")
	api.POST("/session", h.createSession)
	api.DELETE("/session", h.deleteSession)

	voice := api.Group("/voice", h.requireToken)
	voice.GET("/channels", h.listChannels)
	voice.GET("/channels/:id/members", h.listMembers)
	voice.DELETE("/channels/:id/members/:user_id", h.kickMember)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

// accessLog writes one zerolog line per request. Websocket upgrades log when
// the session ends.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		ev := log.Debug()
		if c.Writer.Status() >= 500 {
			ev = log.Error()
		}
		ev.Str("module", "adapters.http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
