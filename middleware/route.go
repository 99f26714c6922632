package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "github.com/fightlightdiamond/chemchat/middleware/security"
)

type RouteOpt struct {
	IsAuth bool
}

var authOptions *midsec.Options

// ConfigureAuth sets the middleware used by authenticated routes; call once
// from main before registering routes.
func ConfigureAuth(opts *midsec.Options) {
	authOptions = opts
}

func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.POST(path, midsec.Middleware(authOptions), handler)
	} else {
		r.POST(path, handler)
	}
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth {
		r.GET(path, midsec.Middleware(authOptions), handler)
	} else {
		r.GET(path, handler)
	}
}
