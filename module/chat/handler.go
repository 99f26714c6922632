package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	midsec "github.com/fightlightdiamond/chemchat/middleware/security"
	"github.com/fightlightdiamond/chemchat/module/chat/message"
	"github.com/fightlightdiamond/chemchat/module/chat/seq"
	"github.com/fightlightdiamond/chemchat/tools/errs"
)

var (
	svc   *message.Service
	coord *seq.Coordinator
)

// Init wires the handlers; call once from main after the stores are up.
func Init(s *message.Service, c *seq.Coordinator) {
	svc = s
	coord = c
}

func tenantOf(c *gin.Context) string {
	return c.GetHeader("X-Tenant-ID")
}

func respond(c *gin.Context, data gin.H, err error) {
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "ok", "data": data})
		return
	}
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		status := http.StatusInternalServerError
		if ce.Code == errs.ArgsError {
			status = http.StatusBadRequest
		}
		c.JSON(status, ce)
		return
	}
	c.JSON(http.StatusInternalServerError, errs.ErrInternal.WithDetail(err.Error()))
}

type sendReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	ClientMsgID    string `json:"client_msg_id" binding:"required"`
	Body           []byte `json:"body"`
}

func HandlerSend(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, nil, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	m, err := svc.SendMessage(c.Request.Context(), tenantOf(c), req.ConversationID,
		midsec.UserID(c), req.ClientMsgID, req.Body)
	if err != nil {
		respond(c, nil, err)
		return
	}
	respond(c, gin.H{
		"server_msg_id": m.ServerMsgID,
		"seq":           m.Seq,
		"create_time":   m.CreateTime.UnixMilli(),
	}, nil)
}

func HandlerCurrentSeq(c *gin.Context) {
	v, err := coord.Current(c.Request.Context(), tenantOf(c), c.Param("id"))
	if err != nil {
		respond(c, nil, err)
		return
	}
	respond(c, gin.H{"seq": v}, nil)
}

type batchReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Count          int64  `json:"count"`
}

// HandlerNextBatch reserves a contiguous range, for bulk importers and
// migration jobs.
func HandlerNextBatch(c *gin.Context) {
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, nil, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	rng, err := coord.NextBatch(c.Request.Context(), tenantOf(c), req.ConversationID, req.Count)
	if err != nil {
		respond(c, nil, err)
		return
	}
	respond(c, gin.H{"start": rng.Start, "end": rng.End}, nil)
}

// HandlerResetSeq forces the counter to 0. Administrative/testing only.
func HandlerResetSeq(c *gin.Context) {
	type resetReq struct {
		ConversationID string `json:"conversation_id" binding:"required"`
	}
	var req resetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, nil, errs.ErrArgs.WrapMsg(err.Error()))
		return
	}
	if err := coord.Reset(c.Request.Context(), tenantOf(c), req.ConversationID); err != nil {
		respond(c, nil, err)
		return
	}
	respond(c, gin.H{}, nil)
}
