package middleware

import (
	"investhub-platform/pkg/config"
	"investhub-platform/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

var defaultPolicies = [][]string{
	{"admin", "/api/admin/*", "(GET)|(POST)"},
}

// NewEnforcer loads the casbin model and policy from ACCESS_CONTROL paths,
// falling back to the built-in admin policy when none are configured.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}

	return e, nil
}

// AccessControl authorizes the principal's role against the request path and method.
func AccessControl(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			_ = c.Error(errutil.Unauthorized("authentication required", nil))
			c.Abort()
			return
		}

		ok, err := e.Enforce(p.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("casbin enforce failed", zap.Error(err))
			_ = c.Error(errutil.Internal("access control failure", err))
			c.Abort()
			return
		}

		if !ok {
			_ = c.Error(errutil.Forbidden("insufficient permissions", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
