package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/payment"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Handler contains HTTP handlers
type Handler struct {
	orderService  *service.OrderService
	authManager   *auth.Manager
	store         store.Store
	webhookSecret string
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orderService *service.OrderService,
	authManager *auth.Manager,
	st store.Store,
	webhookSecret string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orderService:  orderService,
		authManager:   authManager,
		store:         st,
		webhookSecret: webhookSecret,
		logger:        logger,
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
		v1.POST("/orders", h.createOrder)
		v1.POST("/orders/track", h.trackOrder)
		v1.GET("/orders/:id/customer-receipt", h.customerReceipt)

		v1.POST("/payments/intent", h.createPaymentIntent)
		v1.POST("/payments/webhook", h.paymentWebhook)

		v1.POST("/admin/login", h.adminLogin)

		admin := v1.Group("")
		admin.Use(h.requireAdmin())
		{
			admin.GET("/orders", h.listOrders)
			admin.GET("/orders/:id", h.getOrder)
			admin.PUT("/orders/:id", h.updateOrder)
			admin.GET("/orders/:id/receipt", h.orderReceipt)
			admin.POST("/orders/:id/send-receipt", h.sendReceipt)
			admin.GET("/admin/customers", h.listCustomers)
		}
	}
}

// respondError maps the error taxonomy onto status codes. Internal and auth
// details never reach the client; validation and not-found messages are
// already written to be safe to expose.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ErrAuth):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, errs.ErrGateway):
		h.logger.Error("Upstream provider failure", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream provider unavailable"})
	default:
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// requireAdmin guards admin routes with a bearer token.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := h.authManager.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set("admin_user", claims.Username)
		c.Next()
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when the record store answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"time":   time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listOrders returns one page of orders, newest first.
func (h *Handler) listOrders(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	orders, total, err := h.orderService.ListOrders(
		c.Request.Context(), c.Query("status"), limit, (page-1)*limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"pagination": gin.H{
			"page":        page,
			"limit":       limit,
			"total":       total,
			"total_pages": totalPages,
		},
	})
}

// updateOrder handles admin lifecycle updates
func (h *Handler) updateOrder(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type trackRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Email   string `json:"email" binding:"required"`
}

// trackOrder handles the public order lookup
func (h *Handler) trackOrder(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id and email are required"})
		return
	}

	tracked, err := h.orderService.TrackOrder(c.Request.Context(), req.OrderID, req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracked)
}

// orderReceipt streams the receipt document to an admin.
func (h *Handler) orderReceipt(c *gin.Context) {
	filename, contentType, document, err := h.orderService.ReceiptDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, document)
}

// customerReceipt streams the receipt to the customer, gated on the email.
func (h *Handler) customerReceipt(c *gin.Context) {
	filename, contentType, document, err := h.orderService.CustomerReceipt(
		c.Request.Context(), c.Param("id"), c.Query("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, document)
}

// sendReceipt emails the receipt to the order's customer.
func (h *Handler) sendReceipt(c *gin.Context) {
	if err := h.orderService.EmailReceipt(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

type intentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

// createPaymentIntent opens a charge attempt with the payment provider.
func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order_id is required"})
		return
	}

	intent, err := h.orderService.CreatePaymentIntent(c.Request.Context(), req.OrderID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// paymentWebhook receives signed gateway events. Once the signature checks
// out the gateway gets 200 for every condition it cannot fix by retrying;
// only a storage failure returns 500 so the delivery is retried.
func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	header := c.GetHeader(payment.SignatureHeader)
	if err := payment.VerifySignature(body, header, h.webhookSecret, time.Now()); err != nil {
		util.WebhookEventsTotal.WithLabelValues("bad_signature").Inc()
		h.logger.Warn("Webhook signature rejected", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	event, err := payment.ParseEvent(body)
	if err != nil {
		// Verified but undecodable: redelivery cannot make it parse.
		util.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		h.logger.Warn("Webhook payload undecodable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.orderService.ReconcilePayment(c.Request.Context(), event); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// adminLogin exchanges the admin credential for a bearer token.
func (h *Handler) adminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := h.authManager.Login(req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(auth.TokenTTL.Seconds()),
	})
}

// listCustomers returns all customer profiles
func (h *Handler) listCustomers(c *gin.Context) {
	customers, err := h.orderService.ListCustomers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"customers": customers})
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
