package middleware

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fightlightdiamond/chemchat/logger"
	"github.com/fightlightdiamond/chemchat/tools/errs"
)

// Recovery turns a handler panic into the same CodeError envelope every
// other error path responds with, instead of gin's bare 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Errorf("handler panic on %s: %+v", c.FullPath(), err)
				var codeErr *errs.CodeError
				if !stderrors.As(err, &codeErr) {
					codeErr = &errs.ErrInternal
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, codeErr)
			}
		}()
		c.Next()
	}
}
