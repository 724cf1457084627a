package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pizzeria-service/internal/loyalty"
	"pizzeria-service/internal/models"
	"pizzeria-service/internal/service"
	"pizzeria-service/internal/store"
	"pizzeria-service/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	catalog      *service.CatalogClient
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, catalog *service.CatalogClient) *Handler {
	return &Handler{
		orderService: orderService,
		catalog:      catalog,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/menu", h.getMenu)
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateOrderStatus)
		v1.PATCH("/orders/:id/rating", h.rateOrder)
		v1.GET("/customers/:id", h.getCustomer)
		v1.GET("/customers/:id/orders", h.listCustomerOrders)
		v1.GET("/occupancy", h.getOccupancy)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// getMenu returns the pizza catalog
func (h *Handler) getMenu(c *gin.Context) {
	menu, err := h.catalog.GetMenu(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load menu",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"menu": menu})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err, "Failed to create order")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err, "Failed to load order")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// listOrders lists orders by status
func (h *Handler) listOrders(c *gin.Context) {
	status := models.OrderStatus(c.DefaultQuery("status", string(models.StatusPending)))

	orders, err := h.orderService.ListOrders(c.Request.Context(), status)
	if err != nil {
		writeError(c, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type updateStatusRequest struct {
	Status    models.OrderStatus `json:"status" binding:"required"`
	CourierID *int64             `json:"courier_id"`
	VehicleID *int64             `json:"vehicle_id"`
}

// updateOrderStatus transitions an order
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.TransitionStatus(c.Request.Context(), orderID, req.Status, req.CourierID, req.VehicleID)
	if err != nil {
		writeError(c, err, "Failed to update order status")
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

type rateOrderRequest struct {
	Rating *int `json:"rating" binding:"required"`
}

// rateOrder records a customer rating
func (h *Handler) rateOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req rateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orderService.RateOrder(c.Request.Context(), orderID, *req.Rating); err != nil {
		writeError(c, err, "Failed to rate order")
		return
	}

	c.Status(http.StatusNoContent)
}

// getCustomer returns a customer with current balances
func (h *Handler) getCustomer(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	customer, err := h.orderService.GetCustomer(c.Request.Context(), customerID)
	if err != nil {
		writeError(c, err, "Failed to load customer")
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer": customer})
}

// listCustomerOrders lists a customer's orders
func (h *Handler) listCustomerOrders(c *gin.Context) {
	customerID, ok := pathID(c)
	if !ok {
		return
	}

	orders, err := h.orderService.ListCustomerOrders(c.Request.Context(), customerID)
	if err != nil {
		writeError(c, err, "Failed to list orders")
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOccupancy lists couriers and vehicles currently out on a delivery
func (h *Handler) getOccupancy(c *gin.Context) {
	occ, err := h.orderService.GetOccupancy(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to load occupancy")
		return
	}

	c.JSON(http.StatusOK, gin.H{"occupancy": occ})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return id, true
}

// writeError maps service and store errors onto HTTP statuses
func writeError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrCustomerNotFound),
		errors.Is(err, store.ErrPizzaNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientBalance),
		errors.Is(err, store.ErrInsufficientPoints),
		errors.Is(err, loyalty.ErrInsufficientPoints),
		errors.Is(err, loyalty.ErrInvalidSelection),
		errors.Is(err, service.ErrEmptyOrder),
		errors.Is(err, service.ErrInvalidSize),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrUnknownStatus):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, store.ErrStatusConflict):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
