// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/photo-gallery/backend/internal/config"
	"github.com/photo-gallery/backend/internal/identity"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Gallery  Gallery
	Batches  BatchManager
	Identity *identity.Provider
	Config   *config.AppConfig
	// MediaRoot is served under /media when storage is local.
	MediaRoot string
	Version   string
	Logger    *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Images    ImageHandler
	Batches   BatchHandler
	Auth      AuthHandler
	WebSocket BatchStreamHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	up := deps.Config.Upload
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Gallery.StorageName()),
		Images:    NewImageHandler(deps.Gallery, up.MaxBytes, up.AllowedTypes, deps.Logger),
		Batches:   NewBatchHandler(deps.Batches, up.MaxBytes, deps.Logger),
		Auth:      NewAuthHandler(deps.Identity),
		WebSocket: NewWebSocketHandler(deps.Batches, int64(deps.Config.Advanced.WebSocketMaxMessageSize)*1024, deps.Logger),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers, deps *Dependencies) {
	authn := deps.Identity.Middleware()
	sameOwner := identity.RequireOwner(func(c echo.Context) string { return c.Param("ownerId") })

	// Health check
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Gallery proxy routes
	e.POST("/upload", handlers.Images.HandleUpload, authn)
	e.GET("/images/:ownerId", handlers.Images.HandleListImages, authn, sameOwner)
	if deps.Config.Security.AllowFileDeletion {
		e.DELETE("/images/:ownerId/:imageId", handlers.Images.HandleDeleteImageByID, authn, sameOwner)
		e.DELETE("/image/:ownerId/:name", handlers.Images.HandleDeleteImage, authn, sameOwner)
	}

	// Batch routes
	batchGroup := e.Group("/api/batches", authn)
	batchGroup.POST("", handlers.Batches.HandleCreateBatch)
	batchGroup.GET("/:batchId", handlers.Batches.HandleGetBatch)
	batchGroup.POST("/:batchId/files", handlers.Batches.HandleAddFiles)
	batchGroup.DELETE("/:batchId/items/:itemId", handlers.Batches.HandleRemoveItem)
	batchGroup.GET("/:batchId/items/:itemId/preview", handlers.Batches.HandlePreview)
	batchGroup.POST("/:batchId/upload", handlers.Batches.HandleStartUpload)
	batchGroup.GET("/:batchId/events", handlers.Batches.HandleBatchEvents)
	batchGroup.DELETE("/:batchId", handlers.Batches.HandleDiscardBatch)

	// Auth routes
	var authMiddleware []echo.MiddlewareFunc
	if limit := deps.Config.Server.BodyLimit; limit != "" {
		authMiddleware = append(authMiddleware, middleware.BodyLimit(limit))
	}
	authGroup := e.Group("/api/auth", authMiddleware...)
	authGroup.POST("/signin", handlers.Auth.HandleSignIn)
	authGroup.POST("/signout", handlers.Auth.HandleSignOut, authn)
	authGroup.GET("/me", handlers.Auth.HandleMe, authn)

	RegisterWebSocketRoutes(e, handlers, authn)

	if deps.MediaRoot != "" {
		e.Static("/media", deps.MediaRoot)
	}
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers, m ...echo.MiddlewareFunc) {
	e.GET("/api/ws/batches/:batchId", handlers.WebSocket.HandleWebSocket, m...)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e.HTTPErrorHandler = NewErrorHandler(logger, cfg.Advanced.Development)

	e.Use(middleware.Recover())
	if cfg.Server.EnableCORS {
		origins := cfg.Server.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}
	if cfg.Advanced.EnableRequestLogging {
		e.Use(RequestLogger(logger))
	}
}

// RequestLogger logs every request through zap.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	log := logger.Named("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("user_agent", v.UserAgent),
			}
			if u, ok := identity.UserFrom(c); ok {
				fields = append(fields, zap.String("user", u.ID))
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Warn("request", fields...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
