package server

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Rupam798/VideoConferencing/internal/hub"
	"github.com/Rupam798/VideoConferencing/internal/logging"
	"github.com/Rupam798/VideoConferencing/internal/roomid"
)

// Options configures the HTTP surface of the signaling server.
type Options struct {
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter registers the signaling routes on a gin engine.
func NewRouter(h *hub.Hub, opts Options) *gin.Engine {
	log := logging.Or(opts.Logger).With("component", "server")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(OriginFilter(opts.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		stats, err := h.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopping"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": stats.Clients, "rooms": stats.Rooms})
	})

	router.POST("/api/rooms", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"room_id": roomid.New()})
	})

	router.GET("/ws", ServeWs(h, log))

	return router
}

// ServeWs upgrades the request and hands the connection to the hub.
func ServeWs(h *hub.Hub, log *slog.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		// Origins are checked by OriginFilter.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", "error", err)
			return
		}

		client := hub.NewClient(h, conn)
		h.Register(client)

		go client.WritePump()
		go client.ReadPump()
	}
}

// OriginFilter rejects browser requests from origins outside allowed.
// Requests without an Origin header (native clients) always pass.
func OriginFilter(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || len(allowed) == 0 {
			c.Next()
			return
		}

		if !slices.Contains(allowed, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Origin not allowed"})
			return
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
