package server

import (
	"investhub-platform/pkg/middleware"
	"investhub-platform/pkg/security"

	"github.com/casbin/casbin/v2"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

// Router groups the /api routes by the credentials they require.
type Router struct {
	Public *gin.RouterGroup
	User   *gin.RouterGroup
	Admin  *gin.RouterGroup
}

type RouterParams struct {
	fx.In

	Engine   *gin.Engine
	Issuer   *security.TokenIssuer
	Enforcer *casbin.Enforcer
	Resolver security.PrincipalResolver `optional:"true"`
}

func NewRouter(p RouterParams) *Router {
	user := p.Engine.Group("/api", middleware.Authenticate(p.Issuer, p.Resolver))

	return &Router{
		Public: p.Engine.Group("/api"),
		User:   user,
		Admin:  user.Group("/admin", middleware.AccessControl(p.Enforcer)),
	}
}
