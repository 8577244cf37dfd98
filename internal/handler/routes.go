package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/quocanhngo/fleetwatch/internal/middleware"
)

// Routes groups the handlers mounted by the agent
type Routes struct {
	Auth          *AuthHandler
	Dashboard     *DashboardHandler
	WS            *WSHandler
	Authenticator middleware.TokenAuthenticator
}

// Register mounts /api/v1 and /ws on router
func (r Routes) Register(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		// Auth routes (public)
		api.POST("/auth/login", r.Auth.Login)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(r.Authenticator))
		{
			protected.POST("/auth/logout", r.Auth.Logout)

			// Session state
			protected.GET("/snapshot", r.Dashboard.GetSnapshot)
			protected.GET("/status", r.Dashboard.GetStatus)
			protected.GET("/locations", r.Dashboard.GetLocations)
			protected.GET("/stats", r.Dashboard.GetStats)
			protected.GET("/alerts", r.Dashboard.GetAlerts)
			protected.DELETE("/alerts/:index", r.Dashboard.DismissAlert)

			// Tracking and channel
			protected.POST("/tracking/start", r.Dashboard.StartTracking)
			protected.POST("/tracking/stop", r.Dashboard.StopTracking)
			protected.POST("/connection/connect", r.Dashboard.Connect)
			protected.POST("/connection/disconnect", r.Dashboard.Disconnect)

			// Map
			protected.POST("/map/show-all", r.Dashboard.ShowAll)
			protected.POST("/map/camera", r.Dashboard.SetCamera)
			protected.GET("/map/scene", r.Dashboard.GetScene)

			protected.POST("/roster/refresh", r.Dashboard.RefreshRoster)
			protected.POST("/reports", r.Dashboard.ArchiveReport)
		}
	}

	// WebSocket endpoint (auth via query parameter)
	if r.WS != nil {
		router.GET("/ws", r.WS.HandleWebSocket)
	}
}
