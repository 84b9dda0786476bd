package account

import (
	"net/http"

	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/security"
	"investhub-platform/pkg/server"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(NewService, AsPrincipalResolver),
	fx.Invoke(RegisterRoutes),
)

func AsPrincipalResolver(svc *Service) security.PrincipalResolver {
	return svc
}

type handler struct {
	svc *Service
}

func RegisterRoutes(r *server.Router, svc *Service) {
	h := &handler{svc: svc}

	r.Public.POST("/register", h.register)
	r.Public.POST("/login", h.login)
	r.User.GET("/profile", h.profile)
}

func (h *handler) register(c *gin.Context) {
	var in RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("username and password are required", err))
		return
	}

	out, err := h.svc.CreateUser(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *handler) login(c *gin.Context) {
	var in LoginInput
	if err := c.ShouldBindJSON(&in); err != nil {
		_ = c.Error(errutil.BadRequest("username and password are required", err))
		return
	}

	session, err := h.svc.Login(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *handler) profile(c *gin.Context) {
	u, err := h.svc.GetUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, u)
}
