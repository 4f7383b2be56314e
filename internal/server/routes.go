package server

import (
	"errors"
	"net/http"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/docstore"
	"github.com/BioHazard786/warpcall/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewRouter wires the health check, the document websocket and the
// read-only room inspection API.
func NewRouter(cfg *config.Config, hub *docstore.Hub, logger zerolog.Logger) *gin.Engine {
	if cfg.ServerMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	log := logger.With().Str("module", "server").Logger()

	r := gin.New()
	if cfg.ServerMode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "Signaling server is healthy.")
	})

	limits := docstore.Limits{Rate: cfg.RateLimit, Burst: cfg.RateBurst}
	r.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("failed to upgrade connection")
			return
		}
		docstore.NewConn(hub, ws, limits, logger).Serve()
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		docs, err := hub.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": docs})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		doc, err := hub.Get(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, signaling.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, doc)
		}
	})

	log.Debug().Str("mode", cfg.ServerMode).Msg("router setup")
	return r
}
