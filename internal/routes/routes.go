// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"afterglow/internal/config"
	"afterglow/internal/handler"
	"afterglow/internal/middleware"
	"afterglow/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config *config.Config
	logger *zap.Logger
	status handler.StatusSource
	link   handler.SerialState
	relay  handler.ConnectionLister
	bus    *handler.EventBus
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	status handler.StatusSource,
	link handler.SerialState,
	relay handler.ConnectionLister,
	bus *handler.EventBus,
) *Router {
	return &Router{
		config: config,
		logger: logger,
		status: status,
		link:   link,
		relay:  relay,
		bus:    bus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
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

	router.Use(middleware.CORSMiddleware(&r.config.HTTP))

	r.logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.config, r.status, r.link, r.relay, r.logger)
	wsHandler := handler.NewWebSocketHandler(r.bus, r.status, r.logger)

	healthHandler.RegisterRoutes(router.Group(""))

	apiV1 := router.Group("/api/v1")
	r.addStatusRoutes(apiV1, healthHandler)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	router.NoRoute(func(c *gin.Context) {
		utils.ErrorResponse(c, http.StatusNotFound, "Route not found", nil)
	})

	r.logger.Debug("All routes configured successfully")
}

// addStatusRoutes sets up the read-only relay status routes
func (r *Router) addStatusRoutes(api *gin.RouterGroup, handler *handler.HealthHandler) {
	api.GET("/status", handler.GetStatus)
	api.GET("/connections", handler.ListConnections)
}
