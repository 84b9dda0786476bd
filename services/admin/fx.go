package admin

import (
	"net/http"

	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("admin.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.Admin.GET("/dashboard", h.dashboard)
	r.Admin.POST("/users/:id/toggle", h.toggle)
}

func (h *handler) dashboard(c *gin.Context) {
	d, err := h.svc.DashboardSnapshot(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *handler) toggle(c *gin.Context) {
	var in ToggleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("action is required", err))
		return
	}

	u, err := h.svc.ToggleUser(c.Request.Context(), c.Param("id"), in.Action)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}
