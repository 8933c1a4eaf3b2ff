package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-rooms/internal/auth"
	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/core"
	"github.com/vovakirdan/wirechat-rooms/internal/store"
)

// Deps are the collaborators the HTTP layer routes to.
type Deps struct {
	Hub      *core.Hub
	Rooms    *store.RoomStore
	Sessions *store.SessionStore
	Auth     *auth.Service
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewServer builds an HTTP server with the websocket gateway and REST routes.
// The gateway sits on the stdlib mux in front of gin: gin's response writer
// refuses the hijack once the upgrade has written 101.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	rooms := NewRoomHandlers(deps.Rooms, deps.Sessions, deps.Hub, deps.Auth, logger)
	api := router.Group("/api")
	{
		api.POST("/rooms", rooms.CreateRoom)
		api.GET("/rooms/:id/privacy", rooms.RoomPrivacy)
		api.GET("/rooms/:id", RoomAuthMiddleware(deps.Auth, logger), rooms.GetRoom)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, cfg, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
