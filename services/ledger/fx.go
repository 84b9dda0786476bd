package ledger

import (
	"net/http"

	"investhub-platform/pkg/db/pagination"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.User.GET("/wallet", h.wallet)
	r.User.GET("/wallet/verify", h.verify)
	r.User.GET("/transactions", h.transactions)
	r.User.GET("/exchange-rewards", h.rewards)
	r.User.GET("/statistics", h.statistics)
}

const trendLength = 3

func (h *handler) statistics(c *gin.Context) {
	points, err := h.svc.Trend(c.Request.Context(), middleware.UserID(c), trendLength)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trend": points})
}

func (h *handler) wallet(c *gin.Context) {
	l, err := h.svc.GetLedger(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *handler) verify(c *gin.Context) {
	report, err := h.svc.VerifyChain(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handler) transactions(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.ListMovements(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *handler) rewards(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.ListRewards(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}
