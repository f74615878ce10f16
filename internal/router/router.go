package router

import (
	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/handlers"
	"github.com/juan-silveira/clube-navi-sub004/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router mounts
type Handlers struct {
	Order  *handlers.OrderHandler
	Book   *handlers.BookHandler
	Health *handlers.HealthHandler
	WS     *handlers.WSHandler
}

// New builds the gin engine with all routes mounted. Nothing here reads
// global state: config and handlers arrive fully constructed.
func New(cfg *config.Config, h *Handlers) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(&cfg.CORS))

	engine.GET("/health", h.Health.HealthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", h.WS.StreamHandler)

	v1 := engine.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", h.Order.CreateOrderHandler)
			orders.GET("", h.Order.ListOrdersHandler)
			orders.POST("/cancel", h.Order.CancelOrderHandler)
			orders.GET("/:id", h.Order.GetOrderHandler)
			orders.GET("/:id/trades", h.Order.ListOrderTradesHandler)
		}

		contracts := v1.Group("/contracts")
		{
			contracts.GET("/:address/book", h.Book.GetOrderBookHandler)
			contracts.GET("/:address/trades", h.Book.ListContractTradesHandler)
			contracts.GET("/:address/quote", h.Book.QuoteHandler)
		}
	}

	return engine
}
