package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skillsenselab/scribeflow/internal/logger"
	"github.com/skillsenselab/scribeflow/internal/quota"
)

// NewRouter assembles the gin engine: middleware chain, job endpoints and
// operational endpoints.
func NewRouter(
	h *Handlers,
	rateLimiter *quota.SlidingWindow,
	gatherer prometheus.Gatherer,
	log *logger.Logger,
	debug bool,
) *gin.Engine {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := RegisterValidations(); err != nil {
		log.Warn("custom validations not registered", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}

	r := gin.New()
	r.Use(
		RequestID(),
		Recovery(log),
		RequestLogger(log),
	)

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1", OwnerID())
	{
		v1.POST("/jobs", RateLimit(rateLimiter), h.Submit)
		v1.GET("/jobs/:id", h.GetJob)
		v1.POST("/jobs/status", h.BatchStatus)
	}

	return r
}
