package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fightlightdiamond/chemchat/tools/errs"
	sec "github.com/fightlightdiamond/chemchat/tools/security"
)

// Context keys downstream handlers read.
const (
	CtxUserIDKey = "authUserID" // string
	CtxTokenKey  = "authToken"  // string
)

type Options struct {
	JWT sec.Options
	// HeaderToken is consulted before the Authorization bearer header.
	HeaderToken string // default "authorization"
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:         sec.DefaultOptions(secret),
		HeaderToken: "authorization",
	}
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// Authorization: Bearer xxx
		if token == "" {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenAuth)
			return
		}

		claims, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenAuth.WithDetail(err.Error()))
			return
		}

		c.Set(CtxTokenKey, token)
		c.Set(CtxUserIDKey, claims.Subject())
		c.Next()
	}
}

// UserID reads the authenticated subject set by Middleware.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(CtxUserIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
