package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes sets up the API routes
func SetupRoutes(handler *Handler) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(Recovery())
	router.Use(CORS())
	router.Use(Logger())

	// Health check
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	database := router.Group("/database")
	{
		database.GET("/tables", handler.GetTables)
		database.GET("/records", handler.GetRecords)
		database.POST("/query", handler.ExecuteQuery)
		database.POST("/reset", handler.ResetDatabase)
	}

	auditLogs := router.Group("/audit")
	{
		auditLogs.GET("/logs", handler.GetAuditLogs)
		auditLogs.GET("/stats", handler.GetAuditStats)
	}

	github := router.Group("/github")
	{
		identities := github.Group("/identities")
		{
			identities.GET("", handler.GetIdentities)
			identities.GET("/:id", handler.GetIdentity)
			identities.GET("/:id/repositories/:repo", handler.GetRepositoryDetail)
		}

		github.GET("/repositories", handler.GetRepositories)
		github.GET("/issues", handler.GetIssues)
		github.GET("/pull-requests", handler.GetPullRequests)
		github.GET("/releases", handler.GetReleases)

		cache := github.Group("/cache")
		{
			cache.GET("/status", handler.GetCacheStatus)
			cache.POST("/clear", handler.ClearCache)
		}

		github.POST("/refresh", handler.Refresh)
	}

	router.GET("/dependencies/graph", handler.GetDependencyGraph)

	return router
}
