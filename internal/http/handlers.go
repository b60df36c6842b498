package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"lumina/internal/domain"
	"lumina/internal/ledger"
	"lumina/internal/repository"
	"lumina/internal/service"
)

type Server struct {
	engine   *gin.Engine
	products *service.ProductService
	carts    *service.CartService
	orders   *service.OrderService
}

func NewServer(products *service.ProductService, carts *service.CartService, orders *service.OrderService) *Server {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	s := &Server{engine: r, products: products, carts: carts, orders: orders}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := s.engine.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.POST("", s.createProduct)
		products.GET(":id", s.getProduct)
		products.PUT(":id", s.updateProduct)
		products.DELETE(":id", s.deleteProduct)
		products.GET("", s.listProducts)
		products.GET("search", s.searchProducts)
		products.GET("top", s.topProducts)
		products.GET(":id/availability", s.productAvailability)

		cart := v1.Group("/cart", s.requireUser)
		cart.GET("", s.getCart)
		cart.POST("/items", s.addCartItem)
		cart.PUT("/items/:productId", s.setCartItem)
		cart.DELETE("/items/:productId", s.removeCartItem)
		cart.DELETE("", s.clearCart)

		v1.POST("/checkout", s.requireUser, s.checkout)

		orders := v1.Group("/orders", s.requireUser)
		orders.GET("", s.listOrders)
		orders.GET(":id", s.getOrder)
		orders.POST(":id/payment", s.confirmPayment)
		orders.POST(":id/fulfill", s.fulfillOrder)
		orders.POST(":id/cancel", s.cancelOrder)
	}
}

const (
	headerUserID = "X-User-ID"
	headerAdmin  = "X-Admin"
)

func (s *Server) requireUser(c *gin.Context) {
	if c.GetHeader(headerUserID) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + headerUserID})
		return
	}
	c.Next()
}

func userID(c *gin.Context) string { return c.GetHeader(headerUserID) }
func isAdmin(c *gin.Context) bool  { return c.GetHeader(headerAdmin) == "true" }

// Product handlers
type createProductReq struct {
	Name       string  `json:"name"`
	SKU        string  `json:"sku"`
	Brand      string  `json:"brand"`
	PriceCents int64   `json:"price_cents"`
	Rating     float64 `json:"rating"`
	ImageURL   string  `json:"image_url"`
	Stock      int64   `json:"stock"`
}

// @Summary Create product
// @Tags products
// @Accept json
// @Produce json
// @Param input body createProductReq true "Product"
// @Success 201 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Router /products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req createProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p, err := s.products.Create(c, domain.Product{
		Name:       req.Name,
		SKU:        req.SKU,
		Brand:      req.Brand,
		PriceCents: req.PriceCents,
		Rating:     req.Rating,
		ImageURL:   req.ImageURL,
		Stock:      req.Stock,
	})
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, p)
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} domain.Product
// @Failure 404 {object} map[string]string
// @Router /products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	p, err := s.products.GetByID(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

type updateProductReq struct {
	Name       string  `json:"name"`
	Brand      string  `json:"brand"`
	PriceCents int64   `json:"price_cents"`
	Rating     float64 `json:"rating"`
	ImageURL   string  `json:"image_url"`
	Stock      int64   `json:"stock"`
}

// @Summary Update product
// @Tags products
// @Accept json
// @Produce json
// @Param id path string true "Product ID"
// @Param input body updateProductReq true "Update"
// @Success 200 {object} domain.Product
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	var req updateProductReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	existing, err := s.products.GetByID(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	p, err := s.products.Update(c, domain.Product{
		ID:         existing.ID,
		Name:       req.Name,
		SKU:        existing.SKU,
		Brand:      req.Brand,
		PriceCents: req.PriceCents,
		Rating:     req.Rating,
		ImageURL:   req.ImageURL,
		Stock:      req.Stock,
		CreatedAt:  existing.CreatedAt,
	})
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

// @Summary Delete product
// @Tags products
// @Param id path string true "Product ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /products/{id} [delete]
func (s *Server) deleteProduct(c *gin.Context) {
	if err := s.products.Delete(c, c.Param("id")); err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary List products
// @Tags products
// @Produce json
// @Param q query string false "Name contains"
// @Param min_price_cents query int false "Min price in cents"
// @Param max_price_cents query int false "Max price in cents"
// @Success 200 {array} domain.Product
// @Router /products [get]
func (s *Server) listProducts(c *gin.Context) {
	var f repository.ProductFilter
	if q := c.Query("q"); q != "" {
		f.NameSubstring = q
	}
	if v := c.Query("min_price_cents"); v != "" {
		if x, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MinPriceCents = &x
		}
	}
	if v := c.Query("max_price_cents"); v != "" {
		if x, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.MaxPriceCents = &x
		}
	}
	list, err := s.products.List(c, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Search products
// @Tags products
// @Produce json
// @Param q query string true "Search query"
// @Success 200 {array} domain.Product
// @Router /products/search [get]
func (s *Server) searchProducts(c *gin.Context) {
	list, err := s.products.Search(c, c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Top products
// @Tags products
// @Produce json
// @Param n query int false "Limit"
// @Success 200 {array} domain.Product
// @Router /products/top [get]
func (s *Server) topProducts(c *gin.Context) {
	n, _ := strconv.Atoi(c.Query("n"))
	list, err := s.products.Top(c, n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Live availability
// @Tags products
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} map[string]int64
// @Failure 404 {object} map[string]string
// @Router /products/{id}/availability [get]
func (s *Server) productAvailability(c *gin.Context) {
	avail, err := s.products.Available(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": avail})
}

// Cart handlers

// @Summary Get cart
// @Tags cart
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {array} domain.CartLine
// @Router /cart [get]
func (s *Server) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, s.carts.Snapshot(c, userID(c)))
}

type addCartItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// @Summary Add item to cart
// @Tags cart
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param input body addCartItemReq true "Item"
// @Success 200 {array} domain.CartLine
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cart/items [post]
func (s *Server) addCartItem(c *gin.Context) {
	var req addCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.carts.AddLine(c, userID(c), req.ProductID, req.Quantity); err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.carts.Snapshot(c, userID(c)))
}

type setCartItemReq struct {
	Quantity int64 `json:"quantity"`
}

// @Summary Set item quantity
// @Tags cart
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param productId path string true "Product ID"
// @Param input body setCartItemReq true "Quantity (0 removes)"
// @Success 200 {array} domain.CartLine
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /cart/items/{productId} [put]
func (s *Server) setCartItem(c *gin.Context) {
	var req setCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := s.carts.SetQuantity(c, userID(c), c.Param("productId"), req.Quantity); err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.carts.Snapshot(c, userID(c)))
}

// @Summary Remove item from cart
// @Tags cart
// @Param X-User-ID header string true "User ID"
// @Param productId path string true "Product ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /cart/items/{productId} [delete]
func (s *Server) removeCartItem(c *gin.Context) {
	if err := s.carts.RemoveLine(c, userID(c), c.Param("productId")); err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Clear cart
// @Tags cart
// @Param X-User-ID header string true "User ID"
// @Success 204
// @Router /cart [delete]
func (s *Server) clearCart(c *gin.Context) {
	s.carts.Clear(c, userID(c))
	c.Status(http.StatusNoContent)
}

// @Summary Checkout cart
// @Description Creates an order from the cart and reserves stock for it.
// @Tags checkout
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 201 {object} domain.Order
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]interface{}
// @Router /checkout [post]
func (s *Server) checkout(c *gin.Context) {
	uid := userID(c)
	lines := s.carts.Snapshot(c, uid)

	order, err := s.orders.Checkout(c, uid, lines)
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}

	reserved, err := s.orders.Reserve(c, order.ID)
	if err != nil {
		// the order stays Pending and the cart is kept for a retry
		body := gin.H{"error": err.Error(), "order_id": order.ID}
		var short *ledger.InsufficientStockError
		if errors.As(err, &short) {
			body["details"] = short.Items
		}
		c.JSON(mapErrorToStatus(err), body)
		return
	}

	s.carts.Clear(c, uid)
	c.JSON(http.StatusCreated, reserved)
}

// Order handlers

// @Summary Order history
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Success 200 {array} domain.Order
// @Router /orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.History(c, userID(c))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	o, err := s.orders.Get(c, c.Param("id"), userID(c), isAdmin(c))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

type paymentReq struct {
	PaymentRef  string `json:"payment_ref"`
	AmountCents int64  `json:"amount_cents"`
}

// @Summary Confirm payment
// @Description Payment webhook; redelivery of a confirmed payment is a no-op.
// @Tags orders
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Order ID"
// @Param input body paymentReq true "Payment"
// @Success 200 {object} domain.Order
// @Failure 409 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /orders/{id}/payment [post]
func (s *Server) confirmPayment(c *gin.Context) {
	var req paymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o, err := s.orders.ConfirmPayment(c, c.Param("id"), req.PaymentRef, req.AmountCents)
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Fulfill order
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param X-Admin header string true "Must be true"
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/fulfill [post]
func (s *Server) fulfillOrder(c *gin.Context) {
	if !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}
	o, err := s.orders.Fulfill(c, c.Param("id"))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

// @Summary Cancel order
// @Tags orders
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Order ID"
// @Success 200 {object} domain.Order
// @Failure 403 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /orders/{id}/cancel [post]
func (s *Server) cancelOrder(c *gin.Context) {
	o, err := s.orders.Cancel(c, c.Param("id"), userID(c), isAdmin(c))
	if err != nil {
		c.JSON(mapErrorToStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, o)
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrEmptyCart):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrUnknownReservation),
		errors.Is(err, ledger.ErrStockBelowHolds),
		errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrPaymentMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
