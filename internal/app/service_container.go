package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/juan-silveira/clube-navi-sub004/internal/chain"
	"github.com/juan-silveira/clube-navi-sub004/internal/clients"
	"github.com/juan-silveira/clube-navi-sub004/internal/config"
	"github.com/juan-silveira/clube-navi-sub004/internal/db"
	"github.com/juan-silveira/clube-navi-sub004/internal/handlers"
	"github.com/juan-silveira/clube-navi-sub004/internal/repository"
	"github.com/juan-silveira/clube-navi-sub004/internal/router"
	"github.com/juan-silveira/clube-navi-sub004/internal/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Container wires every component explicitly. There are no package-level
// singletons: each test can build its own isolated container with fakes.
type Container struct {
	Config *config.Config
	DB     *gorm.DB

	Queue       *clients.NATSMatchQueue
	ChainClient *chain.RelayerClient
	Scanner     *chain.LogScanner
	Hub         *services.WebSocketHub

	OrderService  *services.OrderService
	BookService   *services.OrderBookService
	MarketService *services.MarketOrderService
	MatchWorker   *services.MatchWorker

	stopResync func()
}

// NewContainer builds the full dependency graph from configuration
func NewContainer(cfg *config.Config) (*Container, error) {
	database, err := db.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	queue, err := clients.NewNATSMatchQueue(&cfg.NATS)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize match queue: %w", err)
	}

	chainClient, err := chain.NewRelayerClient(&cfg.Blockchain)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("failed to initialize chain client: %w", err)
	}

	orders := repository.NewOrderRepository(database)
	trades := repository.NewTradeRepository(database)
	counters := repository.NewOrderIDCounterRepository(database)

	hub := services.NewWebSocketHub()
	broadcaster := services.NewBroadcastService(queue.Conn(), hub)
	identity := clients.NewIdentityClient(&cfg.Identity)

	bookService := services.NewOrderBookService(orders, queue, broadcaster)
	orderService := services.NewOrderService(orders, trades, counters, chainClient, identity, bookService, broadcaster, &cfg.Blockchain)
	marketService := services.NewMarketOrderService(orders, trades, chainClient, identity, bookService, broadcaster, &cfg.Blockchain, &cfg.Matching)
	worker := services.NewMatchWorker(orders, trades, chainClient, queue, bookService, broadcaster, &cfg.Blockchain, &cfg.Matching)

	scanner := chain.NewLogScanner(chainClient.LogClient(), orderService, cfg.Blockchain.ScanIntervalDuration())
	for _, contract := range cfg.Blockchain.Contracts {
		scanner.AddContract(contract)
	}

	return &Container{
		Config:        cfg,
		DB:            database,
		Queue:         queue,
		ChainClient:   chainClient,
		Scanner:       scanner,
		Hub:           hub,
		OrderService:  orderService,
		BookService:   bookService,
		MarketService: marketService,
		MatchWorker:   worker,
	}, nil
}

// Start launches the background components: match worker, log scanner and
// the periodic counter resync.
func (c *Container) Start() error {
	if err := c.MatchWorker.Start(); err != nil {
		return err
	}
	c.Scanner.Start()
	c.stopResync = c.OrderService.StartCounterResync(
		c.Config.Blockchain.Contracts,
		c.Config.Matching.CounterResyncDuration(),
	)
	log.Printf("🚀 [App] All background components started")
	return nil
}

// Router builds the HTTP engine over the container's services
func (c *Container) Router() *gin.Engine {
	orderHandler := handlers.NewOrderHandler(c.OrderService, c.MarketService)
	bookHandler := handlers.NewBookHandler(c.BookService, c.OrderService, c.MarketService)
	wsHandler := handlers.NewWSHandler(c.Hub)

	healthHandler := handlers.NewHealthHandler(
		func() error {
			sqlDB, err := c.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		},
		func() error {
			if !c.Queue.Conn().IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nil
		},
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := c.ChainClient.LogClient().BlockNumber(ctx)
			return err
		},
	)

	return router.New(c.Config, &router.Handlers{
		Order:  orderHandler,
		Book:   bookHandler,
		Health: healthHandler,
		WS:     wsHandler,
	})
}

// Shutdown stops background components and closes connections in reverse
// dependency order
func (c *Container) Shutdown() {
	if c.stopResync != nil {
		c.stopResync()
	}
	c.Scanner.Stop()
	c.MatchWorker.Stop()
	c.Queue.Close()
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Printf("🛑 [App] Shutdown complete")
}
