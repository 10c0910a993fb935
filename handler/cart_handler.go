package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gofalre.io/gomarket"
	"gofalre.io/gomarket/models"
)

// SessionHeader names the cart scope a request works on.
const SessionHeader = "X-Cart-Session"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type CartResponse struct {
	Products []models.LineItem `json:"products"`
}

type AddToCartRequest struct {
	ID       string  `json:"id" binding:"required"`
	Title    string  `json:"title"`
	ImageURL string  `json:"image_url"`
	Price    float64 `json:"price"`
}

type CartHandler struct {
	logger *zap.Logger
}

func NewCartHandler(logger *zap.Logger) *CartHandler {
	return &CartHandler{logger: logger}
}

// RegisterRoutes mounts the cart routes behind the CartScope middleware.
func (h *CartHandler) RegisterRoutes(router *gin.RouterGroup, provider *gomarket.Provider) {
	cart := router.Group("/cart", CartScope(provider, h.logger))
	{
		cart.GET("", h.GetCart)
		cart.POST("/items", h.AddToCart)
		cart.POST("/items/:id/increment", h.Increment)
		cart.POST("/items/:id/decrement", h.Decrement)
	}
}

// CartScope mounts the cart named by SessionHeader into the request context.
func CartScope(provider *gomarket.Provider, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := provider.Mount(c.Request.Context(), c.GetHeader(SessionHeader))
		if err != nil {
			logger.Error("Failed to mount cart", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
				Error:   "cart unavailable",
				Message: err.Error(),
			})
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	cart, ok := h.cart(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, CartResponse{Products: cart.Products()})
}

func (h *CartHandler) AddToCart(c *gin.Context) {
	cart, ok := h.cart(c)
	if !ok {
		return
	}

	var req AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}

	item := models.LineItem{
		ID:       req.ID,
		Title:    req.Title,
		ImageURL: req.ImageURL,
		Price:    req.Price,
	}
	h.respond(c, cart, cart.AddToCart(c.Request.Context(), item))
}

func (h *CartHandler) Increment(c *gin.Context) {
	cart, ok := h.cart(c)
	if !ok {
		return
	}
	h.respond(c, cart, cart.Increment(c.Request.Context(), c.Param("id")))
}

func (h *CartHandler) Decrement(c *gin.Context) {
	cart, ok := h.cart(c)
	if !ok {
		return
	}
	h.respond(c, cart, cart.Decrement(c.Request.Context(), c.Param("id")))
}

func (h *CartHandler) cart(c *gin.Context) (gomarket.Cart, bool) {
	cart, err := gomarket.UseCart(c.Request.Context())
	if err != nil {
		h.logger.Error("Cart handler reached without a cart scope", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "cart scope missing",
			Message: err.Error(),
		})
		return nil, false
	}
	return cart, true
}

// respond reports the cart as it is in memory. A failed write still answers
// with the new state; the caller learns about it through the status code.
func (h *CartHandler) respond(c *gin.Context, cart gomarket.Cart, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, CartResponse{Products: cart.Products()})
	case errors.Is(err, gomarket.ErrPoolClosed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "cart unavailable", Message: err.Error()})
	default:
		h.logger.Warn("Cart changed but not persisted", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusAccepted, CartResponse{Products: cart.Products()})
	}
}
