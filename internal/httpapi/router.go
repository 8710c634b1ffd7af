package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RouterConfig собирает зависимости HTTP-маршрутизатора.
type RouterConfig struct {
	Handler     *Handler
	Idempotency gin.HandlerFunc
	Logger      *log.Entry
	Mode        string
}

// NewRouter строит маршрутизатор API. Idempotency-middleware навешивается
// только на мутирующие маршруты; маршруты чтения остаются без него.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Logger != nil {
		router.Use(requestLogger(cfg.Logger))
	}

	idem := cfg.Idempotency
	if idem == nil {
		idem = func(c *gin.Context) { c.Next() }
	}

	api := router.Group("/api/v1")
	{
		api.POST("/orders", idem, cfg.Handler.CreateOrder)
		api.GET("/orders", cfg.Handler.ListOrders)
		api.GET("/orders/:id", cfg.Handler.GetOrder)
		api.GET("/orders/:id/history", cfg.Handler.History)
		api.POST("/orders/:id/status", idem, cfg.Handler.ChangeStatus)
		api.POST("/orders/:id/payment-status", idem, cfg.Handler.ChangePaymentStatus)
		api.POST("/orders/:id/cancellation", idem, cfg.Handler.InitiateCancellation)
		api.POST("/orders/:id/cancellation/confirm", idem, cfg.Handler.ConfirmCancellation)
		api.GET("/statuses/visible", cfg.Handler.VisibleStatuses)
	}

	return router
}

// requestLogger пишет строку на каждый обработанный запрос.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("http request handled")
	}
}
