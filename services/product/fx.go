package product

import (
	"net/http"

	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("product.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.User.GET("/products", h.products)
	r.User.GET("/user-products", h.holdings)
	r.User.POST("/wallets/purchase", h.purchase)
	r.User.POST("/update-income", h.accrue)
}

func (h *handler) products(c *gin.Context) {
	rows, err := h.svc.ListProducts(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *handler) holdings(c *gin.Context) {
	rows, err := h.svc.ListHoldings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (h *handler) purchase(c *gin.Context) {
	var in PurchaseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("product_id is required", err))
		return
	}
	in.UserID = middleware.UserID(c)

	holding, wallet, err := h.svc.PurchaseProduct(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holding": holding, "balance": wallet.Balance})
}

func (h *handler) accrue(c *gin.Context) {
	wallet, err := h.svc.AccrueIncome(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}
