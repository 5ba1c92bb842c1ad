package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/kpforge/proposal-backend/internal/http/handlers"
	httpMW "github.com/kpforge/proposal-backend/internal/http/middleware"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	ProposalHandler *httpH.ProposalHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("proposal-backend"))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	r.GET("/healthcheck", httpH.HealthCheck)

	api := r.Group("/api")
	{
		if cfg.ProposalHandler != nil {
			api.POST("/proposals", cfg.ProposalHandler.Start)
			api.GET("/proposals/:id", cfg.ProposalHandler.Get)
			api.POST("/proposals/:id/approve", cfg.ProposalHandler.Approve)
		}
	}

	return r
}
