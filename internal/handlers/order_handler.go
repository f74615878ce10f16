package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/juan-silveira/clube-navi-sub004/internal/models"
	"github.com/juan-silveira/clube-navi-sub004/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// OrderHandler handles order lifecycle API requests
type OrderHandler struct {
	orderService  *services.OrderService
	marketService *services.MarketOrderService
}

// NewOrderHandler creates a new OrderHandler instance
func NewOrderHandler(orderService *services.OrderService, marketService *services.MarketOrderService) *OrderHandler {
	return &OrderHandler{
		orderService:  orderService,
		marketService: marketService,
	}
}

// CreateOrderRequest is the tagged request body for POST /api/v1/orders.
// Kind selects the variant: LIMIT requires price, MARKET accepts slippage
// and the partial-fill policy. Amounts travel as decimal strings so no
// precision is lost in transit.
type CreateOrderRequest struct {
	ContractAddress string `json:"contract_address" binding:"required"`
	OwnerAddress    string `json:"owner_address" binding:"required"`
	Side            string `json:"side" binding:"required"`
	Kind            string `json:"kind" binding:"required"`
	Amount          string `json:"amount" binding:"required"`

	// LIMIT only
	Price string `json:"price,omitempty"`

	// MARKET only
	SlippagePct  string `json:"slippage_pct,omitempty"`
	AllowPartial bool   `json:"allow_partial,omitempty"`
}

// CreateOrderHandler handles POST /api/v1/orders
func (h *OrderHandler) CreateOrderHandler(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	side := models.OrderSide(req.Side)
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be BUY or SELL"})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a decimal string"})
		return
	}

	switch models.OrderKind(req.Kind) {
	case models.OrderKindLimit:
		if req.Price == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price is required for LIMIT orders"})
			return
		}
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be a decimal string"})
			return
		}
		order, err := h.orderService.CreateLimitOrder(c.Request.Context(), req.ContractAddress, req.OwnerAddress, side, amount, price)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"order": order})

	case models.OrderKindMarket:
		slippage := decimal.Zero
		if req.SlippagePct != "" {
			slippage, err = decimal.NewFromString(req.SlippagePct)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "slippage_pct must be a decimal string"})
				return
			}
		}
		execution, err := h.marketService.Execute(c.Request.Context(), req.ContractAddress, side, req.OwnerAddress, amount, slippage, req.AllowPartial)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"execution": execution})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be LIMIT or MARKET"})
	}
}

// CancelOrderRequest is the request body for order cancellation. Side is
// mandatory: chain ids collide across the buy and sell sequences.
type CancelOrderRequest struct {
	ContractAddress string `json:"contract_address" binding:"required"`
	OwnerAddress    string `json:"owner_address" binding:"required"`
	Side            string `json:"side" binding:"required"`
	ChainOrderID    uint64 `json:"chain_order_id" binding:"required"`
}

// CancelOrderHandler handles POST /api/v1/orders/cancel
func (h *OrderHandler) CancelOrderHandler(c *gin.Context) {
	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	side := models.OrderSide(req.Side)
	if side != models.OrderSideBuy && side != models.OrderSideSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be BUY or SELL"})
		return
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), req.ContractAddress, side, req.OwnerAddress, req.ChainOrderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// GetOrderHandler handles GET /api/v1/orders/:id
func (h *OrderHandler) GetOrderHandler(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListOrdersHandler handles GET /api/v1/orders?owner=0x...&page=1&page_size=20
func (h *OrderHandler) ListOrdersHandler(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner query parameter is required"})
		return
	}
	page, pageSize := paginationParams(c)

	orders, total, err := h.orderService.ListOrdersByOwner(c.Request.Context(), owner, page, pageSize)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":    orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListOrderTradesHandler handles GET /api/v1/orders/:id/trades
func (h *OrderHandler) ListOrderTradesHandler(c *gin.Context) {
	trades, err := h.orderService.ListTradesByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func paginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	return page, pageSize
}

// respondServiceError maps service errors to HTTP status codes
func respondServiceError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var liquidityErr *services.LiquidityError
	var chainErr *services.ChainSubmissionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Error()})
	case errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found or inactive"})
	case errors.Is(err, services.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, services.ErrLockAcquisition):
		c.JSON(http.StatusConflict, gin.H{"error": "orders are being processed, please retry"})
	case errors.As(err, &liquidityErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":     "insufficient liquidity",
			"requested": liquidityErr.Requested,
			"available": liquidityErr.Available,
		})
	case errors.As(err, &chainErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "chain submission failed",
			"tx_hash": chainErr.TxHash,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
