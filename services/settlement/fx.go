package settlement

import (
	"net/http"

	"investhub-platform/pkg/db/pagination"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.User.POST("/recharge", h.requestRecharge)
	r.User.GET("/recharge-status/:id", h.rechargeStatus)
	r.User.POST("/recharge/:id/reference", h.submitReference)
	r.User.GET("/funding-details", h.fundingDetails)
	r.User.GET("/payment-instructions", h.paymentInstructions)
	r.User.POST("/wallets/withdraw", h.requestWithdrawal)
	r.User.GET("/withdrawal-history", h.withdrawalHistory)

	r.Admin.POST("/approve-transaction", h.settle)
}

func (h *handler) requestRecharge(c *gin.Context) {
	var in RechargeInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid recharge request", err))
		return
	}
	in.UserID = middleware.UserID(c)
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	receipt, err := h.svc.RequestRecharge(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (h *handler) rechargeStatus(c *gin.Context) {
	req, err := h.svc.PollRechargeStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.ID, "code": req.Code, "status": req.Status, "amount": req.Amount})
}

func (h *handler) submitReference(c *gin.Context) {
	var body struct {
		ExternalRef string `json:"external_ref" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(errutil.BadRequest("external_ref is required", err))
		return
	}

	req, err := h.svc.SubmitRechargeReference(c.Request.Context(), middleware.UserID(c), c.Param("id"), body.ExternalRef)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *handler) fundingDetails(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.ListRecharges(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *handler) paymentInstructions(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.PaymentInstructions())
}

func (h *handler) requestWithdrawal(c *gin.Context) {
	var in WithdrawalInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("invalid withdrawal request", err))
		return
	}
	in.UserID = middleware.UserID(c)
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	req, err := h.svc.RequestWithdrawal(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *handler) withdrawalHistory(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.svc.ListWithdrawals(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "page_info": info})
}

func (h *handler) settle(c *gin.Context) {
	var cmd Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		_ = c.Error(errutil.BadRequest("invalid settlement command", err))
		return
	}

	res, err := h.svc.Settle(c.Request.Context(), cmd)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
