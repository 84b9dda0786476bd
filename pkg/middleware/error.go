package middleware

import (
	"errors"

	"investhub-platform/pkg/errutil"
	"investhub-platform/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error attached with c.Error as the errutil JSON envelope.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if !errors.As(last.Err, &be) {
			code := errutil.StatusOf(last.Err)
			be = errutil.BaseError{Code: code, Message: "internal server error"}
			if code != errutil.StatusInternal {
				be.Message = last.Err.Error()
			}
		}

		if be.Code.HTTPStatus() >= 500 {
			logger.L(c.Request.Context()).Error("request failed",
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
		}

		c.AbortWithStatusJSON(be.Code.HTTPStatus(), be.JSON())
	}
}
