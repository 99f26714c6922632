package chat

import (
	"github.com/gin-gonic/gin"

	mid "github.com/fightlightdiamond/chemchat/middleware"
)

func RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")

	mid.POST(api, "/chat/send", HandlerSend, mid.RouteOpt{IsAuth: true})
	mid.GET(api, "/chat/conversations/:id/seq", HandlerCurrentSeq, mid.RouteOpt{IsAuth: true})
	mid.POST(api, "/chat/seq/batch", HandlerNextBatch, mid.RouteOpt{IsAuth: true})

	mid.POST(api, "/admin/seq/reset", HandlerResetSeq, mid.RouteOpt{IsAuth: true})
}
