// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ser2tcp/internal/config"
	"ser2tcp/internal/handler"
	"ser2tcp/internal/middleware"
	"ser2tcp/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config   *config.Config
	logger   *zap.Logger
	status   handler.StatusProvider
	eventBus *handler.EventBus
	ports    handler.PortLister
}

// NewRouter creates a new router instance. A nil port lister enumerates
// the host's serial ports.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	status handler.StatusProvider,
	eventBus *handler.EventBus,
	ports handler.PortLister,
) *Router {
	return &Router{
		config:   config,
		logger:   logger,
		status:   status,
		eventBus: eventBus,
		ports:    ports,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if r.config.App.Environment == "test" {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.API))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.status, r.config, r.logger)
	bridgeHandler := handler.NewBridgeHandler(r.status, r.logger)
	portHandler := handler.NewPortHandler(r.ports, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addBridgeRoutes(apiV1, bridgeHandler)
	apiV1.GET("/ports", portHandler.ListPorts)

	if r.eventBus != nil {
		wsHandler := handler.NewWebSocketHandler(r.eventBus, r.status, r.config.API.AllowedOrigins, r.logger)
		router.GET("/ws/events", wsHandler.HandleEventConnection)
	}

	router.NoRoute(func(c *gin.Context) {
		utils.ErrorResponse(c, http.StatusNotFound, "Route not found", nil)
	})

	r.logger.Debug("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addBridgeRoutes sets up bridge status routes
func (r *Router) addBridgeRoutes(api *gin.RouterGroup, handler *handler.BridgeHandler) {
	bridges := api.Group("/bridges")
	{
		bridges.GET("", handler.ListBridges)
		bridges.GET("/:bridge_id", handler.GetBridge)
	}
}
