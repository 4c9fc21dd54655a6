package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"shop-service/internal/service"
	"shop-service/internal/settings"
	"shop-service/internal/store"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout   *service.CheckoutService
	catalog    *service.CatalogService
	deposits   *service.DepositService
	promotions *service.PromotionService
	settings   *settings.Cache
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	catalog *service.CatalogService,
	deposits *service.DepositService,
	promotions *service.PromotionService,
	settingsCache *settings.Cache,
) *Handler {
	return &Handler{
		checkout:   checkout,
		catalog:    catalog,
		deposits:   deposits,
		promotions: promotions,
		settings:   settingsCache,
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
		v1.GET("/shop/info", h.shopInfo)
		v1.GET("/shop/products", h.listProducts)
		v1.GET("/shop/products/:id", h.getProduct)

		authed := v1.Group("", identityMiddleware())
		{
			authed.POST("/orders/checkout", h.createCheckout)
			authed.POST("/orders/apply-promotion", h.applyPromotion)
			authed.GET("/orders", h.listOrders)
			authed.GET("/orders/:id", h.getOrder)

			authed.POST("/deposits", h.createDeposit)
			authed.GET("/deposits", h.listDeposits)

			authed.GET("/me", h.getAccount)
			authed.GET("/transactions", h.listTransactions)
		}

		// Called by the payment provider; the reference is the credential.
		v1.POST("/deposits/webhook", h.depositWebhook)

		admin := v1.Group("/admin", identityMiddleware(), adminOnly())
		{
			admin.POST("/products/:id/units", h.bulkAddUnits)
			admin.POST("/products/:id/units/clear", h.clearUnits)
			admin.DELETE("/products/:id/units/:unitId", h.removeUnit)
			admin.PUT("/settings/:key", h.updateSetting)
		}
	}
}

// identityMiddleware is the trust-boundary shim for the external
// authentication collaborator: the gateway injects the caller's identity.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid identity"})
			return
		}
		c.Set("userID", userID)
		c.Set("userRole", c.GetHeader("X-User-Role"))
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin role required"})
			return
		}
		c.Next()
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) shopInfo(c *gin.Context) {
	info := h.settings.Snapshot(map[string]string{
		"shop_name":       "Account Shop",
		"shop_logo":       "",
		"contact_hotline": "",
	})
	c.JSON(http.StatusOK, info)
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	req.UserID = c.GetInt64("userID")
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.checkout.Checkout(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

type applyPromotionRequest struct {
	Code     string `json:"code" binding:"required"`
	Subtotal int64  `json:"subtotal" binding:"required,min=1"`
}

func (h *Handler) applyPromotion(c *gin.Context) {
	var req applyPromotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	promo, discount, err := h.promotions.Validate(c.Request.Context(), req.Code, req.Subtotal)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":     true,
		"discount":  discount,
		"promotion": promo,
	})
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.checkout.ListOrders(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, items, units, err := h.checkout.GetOrder(c.Request.Context(), c.GetInt64("userID"), orderID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":    order,
		"items":    items,
		"accounts": units,
	})
}

type createDepositRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

func (h *Handler) createDeposit(c *gin.Context) {
	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	deposit, err := h.deposits.Create(c.Request.Context(), c.GetInt64("userID"), req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"deposit": deposit})
}

func (h *Handler) getAccount(c *gin.Context) {
	user, err := h.deposits.GetAccount(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) listTransactions(c *gin.Context) {
	txs, err := h.deposits.ListTransactions(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txs})
}

func (h *Handler) listDeposits(c *gin.Context) {
	deposits, err := h.deposits.ListForUser(c.Request.Context(), c.GetInt64("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deposits})
}

type depositWebhookRequest struct {
	Reference     string `json:"reference" binding:"required"`
	Amount        int64  `json:"amount" binding:"required,min=1"`
	ProviderTxnID string `json:"provider_txn_id"`
}

// depositWebhook always answers 200 for processable deliveries, including
// duplicates and mismatches, to stop provider redelivery storms.
func (h *Handler) depositWebhook(c *gin.Context) {
	var req depositWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.deposits.Complete(c.Request.Context(), req.Reference, req.Amount, req.ProviderTxnID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": string(result)})
}

type bulkAddUnitsRequest struct {
	Accounts string `json:"accounts" binding:"required"`
}

func (h *Handler) bulkAddUnits(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req bulkAddUnitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	stock, err := h.catalog.BulkAddUnits(c.Request.Context(), productID, req.Accounts)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stock": stock})
}

func (h *Handler) clearUnits(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	if err := h.catalog.ClearUnits(c.Request.Context(), productID); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stock": 0})
}

func (h *Handler) removeUnit(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	unitID, err := strconv.ParseInt(c.Param("unitId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid unit ID"})
		return
	}

	stock, err := h.catalog.RemoveUnit(c.Request.Context(), productID, unitID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stock": stock})
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) updateSetting(c *gin.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.settings.Set(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": req.Value})
}

// fail maps the settlement error taxonomy onto HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	var (
		stockErr   *store.InsufficientStockError
		payloadErr *store.DuplicatePayloadError
	)

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "Insufficient stock",
			"product_id": stockErr.ProductID,
			"product":    stockErr.ProductName,
			"shortfall":  stockErr.Shortfall(),
		})
	case errors.As(err, &payloadErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "Duplicate credential payloads",
			"duplicates": payloadErr.Payloads,
		})
	case errors.Is(err, store.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient balance"})
	case errors.Is(err, store.ErrStaleAllocation):
		c.JSON(http.StatusConflict, gin.H{"error": "Stock changed during checkout, please retry"})
	case errors.Is(err, store.ErrPromotionBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Subtotal below promotion minimum"})
	case errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrPromotionNotFound),
		errors.Is(err, store.ErrDepositNotFound),
		errors.Is(err, store.ErrUnitNotFound),
		errors.Is(err, store.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		util.GetLogger().Error("Unexpected storage error: " + err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
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
