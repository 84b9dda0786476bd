package referral

import (
	"net/http"

	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.User.GET("/referral", h.summary)
	r.User.POST("/referral/claim", h.claim)
}

func (h *handler) summary(c *gin.Context) {
	s, err := h.svc.GetReferral(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handler) claim(c *gin.Context) {
	res, err := h.svc.ClaimVipReward(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
