package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiz-delivery-service/internal/app"
)

type RouterConfig struct {
	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string
	// Profiling mounts pprof under /debug/pprof.
	Profiling bool
}

// NewRouter builds the gin engine serving the REST API, the attempt
// websocket and the operational endpoints.
func NewRouter(service *app.QuizService, c RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), errorResponder())
	r.Use(cors.New(corsConfig(c.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if c.Profiling {
		pprof.Register(r)
	}

	NewQuizHandler(service).Register(r.Group("/api/quiz"))
	r.GET("/ws/attempts/:resultId", NewWSHandler(service).ServeWS)
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: len(origins) > 0,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
