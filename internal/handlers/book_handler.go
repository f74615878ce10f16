package handlers

import (
	"net/http"
	"strconv"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"
	"github.com/juan-silveira/clube-navi-sub004/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BookHandler handles order book and trade history API requests
type BookHandler struct {
	bookService   *services.OrderBookService
	orderService  *services.OrderService
	marketService *services.MarketOrderService
}

// NewBookHandler creates a new BookHandler instance
func NewBookHandler(bookService *services.OrderBookService, orderService *services.OrderService, marketService *services.MarketOrderService) *BookHandler {
	return &BookHandler{
		bookService:   bookService,
		orderService:  orderService,
		marketService: marketService,
	}
}

// GetOrderBookHandler handles GET /api/v1/contracts/:address/book?depth=20
func (h *BookHandler) GetOrderBookHandler(c *gin.Context) {
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "0"))
	if depth < 0 {
		depth = 0
	}

	snapshot, err := h.bookService.GetOrderBook(c.Request.Context(), c.Param("address"), depth)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// ListContractTradesHandler handles GET /api/v1/contracts/:address/trades
func (h *BookHandler) ListContractTradesHandler(c *gin.Context) {
	page, pageSize := paginationParams(c)

	trades, total, err := h.orderService.ListTradesByContract(c.Request.Context(), c.Param("address"), page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":    trades,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// QuoteHandler handles GET /api/v1/contracts/:address/quote?side=BUY&amount=10&requester=0x...
func (h *BookHandler) QuoteHandler(c *gin.Context) {
	side := models.OrderSide(c.Query("side"))
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be BUY or SELL"})
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
		return
	}

	slippage := decimal.Zero
	if raw := c.Query("slippage_pct"); raw != "" {
		slippage, err = decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slippage_pct must be a decimal string"})
			return
		}
	}

	quote, err := h.marketService.Quote(c.Request.Context(), c.Param("address"), side, c.Query("requester"), amount, slippage)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}
