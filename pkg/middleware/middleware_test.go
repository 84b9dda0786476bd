package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"investhub-platform/pkg/config"
	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/security"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

func newIssuer(t *testing.T) *security.TokenIssuer {
	cfg := &config.Config{}
	cfg.Auth.TokenSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.Issuer = "investhub"
	cfg.Auth.TokenTTL = time.Hour

	issuer, err := security.NewTokenIssuer(cfg)
	require.NoError(t, err)
	return issuer
}

type fakeResolver struct {
	roles    map[string]string
	disabled map[string]bool
}

func (f *fakeResolver) ResolvePrincipal(_ context.Context, p security.Principal) (*security.Principal, error) {
	if f.disabled[p.UserID] {
		return nil, errutil.Forbidden("account is disabled", nil)
	}
	role, ok := f.roles[p.UserID]
	if !ok {
		return nil, errutil.Unauthorized("unknown account", nil)
	}
	p.Role = role
	return &p, nil
}

func newRouter(t *testing.T, issuer *security.TokenIssuer) *gin.Engine {
	return newResolvingRouter(t, issuer, nil)
}

func newResolvingRouter(t *testing.T, issuer *security.TokenIssuer, resolver security.PrincipalResolver) *gin.Engine {
	enforcer, err := NewEnforcer(&config.Config{})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Error())

	api := r.Group("/api", Authenticate(issuer, resolver))
	api.GET("/wallet", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	api.GET("/fail", func(c *gin.Context) {
		_ = c.Error(errutil.InsufficientFunds("insufficient income", nil))
	})
	api.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db exploded"))
	})

	admin := api.Group("/admin", AccessControl(enforcer))
	admin.GET("/dashboard", func(c *gin.Context) { c.Status(http.StatusOK) })

	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(t, issuer)

	w := do(r, "/api/wallet", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, "/api/wallet", "garbage")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := issuer.Issue(security.Principal{UserID: "7", Role: security.RoleUser})
	require.NoError(t, err)

	w = do(r, "/api/wallet", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"user_id":"7"}`, w.Body.String())
}

func TestErrorEnvelope(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(t, issuer)
	token, _, err := issuer.Issue(security.Principal{UserID: "7", Role: security.RoleUser})
	require.NoError(t, err)

	w := do(r, "/api/fail", token)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "INSUFFICIENT_FUNDS", body.Error.Code)

	w = do(r, "/api/boom", token)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db exploded")
}

func TestAccessControl(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(t, issuer)

	userToken, _, err := issuer.Issue(security.Principal{UserID: "7", Role: security.RoleUser})
	require.NoError(t, err)
	adminToken, _, err := issuer.Issue(security.Principal{UserID: "1", Role: security.RoleAdmin})
	require.NoError(t, err)

	require.Equal(t, http.StatusForbidden, do(r, "/api/admin/dashboard", userToken).Code)
	require.Equal(t, http.StatusOK, do(r, "/api/admin/dashboard", adminToken).Code)
}

func TestAuthenticateRefreshesPrincipal(t *testing.T) {
	issuer := newIssuer(t)
	resolver := &fakeResolver{
		roles:    map[string]string{"1": security.RoleAdmin, "7": security.RoleUser},
		disabled: map[string]bool{},
	}
	r := newResolvingRouter(t, issuer, resolver)

	token, _, err := issuer.Issue(security.Principal{UserID: "1", Role: security.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, do(r, "/api/admin/dashboard", token).Code)

	// demoted after the token was issued
	resolver.roles["1"] = security.RoleUser
	require.Equal(t, http.StatusForbidden, do(r, "/api/admin/dashboard", token).Code)
	require.Equal(t, http.StatusOK, do(r, "/api/wallet", token).Code)

	resolver.disabled["1"] = true
	require.Equal(t, http.StatusForbidden, do(r, "/api/wallet", token).Code)

	// a stale token cannot promote itself
	stale, _, err := issuer.Issue(security.Principal{UserID: "7", Role: security.RoleAdmin})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, do(r, "/api/admin/dashboard", stale).Code)

	gone, _, err := issuer.Issue(security.Principal{UserID: "99", Role: security.RoleUser})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, do(r, "/api/wallet", gone).Code)
}
