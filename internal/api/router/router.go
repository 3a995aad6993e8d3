package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/jobnex-queue/internal/api/handler"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker func(c *gin.Context) error

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, health HealthChecker) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		if health != nil {
			if err := health(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "jobnex-api",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1", SubscriberMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/result", jobHandler.GetJobResult)
			jobs.POST("/:job_id/requeue", jobHandler.RequeueJob)
		}

		v1.GET("/usage/:action", jobHandler.GetUsage)
	}

	// Trigger for an external scheduler, mounted only when a dispatcher and a
	// shared token are both configured
	if deps.Dispatcher != nil && deps.DispatchToken != "" {
		dispatchHandler := handler.NewDispatchHandler(deps)
		r.POST("/internal/dispatch", DispatchTokenMiddleware(deps.DispatchToken), dispatchHandler.Dispatch)
	}

	return r
}
