package app

import (
	"strings"

	"github.com/gin-gonic/gin"

	"bizforge.io/platform/internal/api/handlers"
	"bizforge.io/platform/internal/api/middleware"
	"bizforge.io/platform/internal/infrastructure"
	"bizforge.io/platform/internal/pkg/logger"
)

// Public routes that do NOT require JWT authentication.
var publicPrefixes = []string{
	"/api/v1/health",
}

func newRouter(server *handlers.Server, db *infrastructure.DatabaseClients, signingKey []byte) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(jwtSkipPublic(signingKey))

	v1 := router.Group("/api/v1")
	v1.GET("/health", handlers.Health(db.Pool))
	v1.POST("/mutations", server.Mutate)

	// Runtime log level: GET reads, PUT {"level":"debug"} changes.
	levelHandler := gin.WrapH(logger.HTTPHandler())
	v1.GET("/log/level", levelHandler)
	v1.PUT("/log/level", levelHandler)
	return router
}

// jwtSkipPublic applies JWT auth only on non-public routes.
func jwtSkipPublic(signingKey []byte) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(signingKey)
	return func(c *gin.Context) {
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}
