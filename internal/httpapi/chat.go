package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/chat"
	"github.com/linkwell/linkwell/store/conversation"
)

type chatHandler struct {
	svc *chat.Service
	log *zap.Logger
}

func (h *chatHandler) list(c *gin.Context) {
	out, err := h.svc.ListConversations(c.Request.Context(), caller(c))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type connectionRequest struct {
	UserID string `json:"user_id"`
}

func (h *chatHandler) request(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.log, badRequest("invalid request body"))
		return
	}

	convo, err := h.svc.RequestConnection(c.Request.Context(), caller(c), req.UserID)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, convo)
}

type decisionRequest struct {
	Status conversation.Status `json:"status"`
}

func (h *chatHandler) respond(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.log, badRequest("invalid request body"))
		return
	}

	convo, err := h.svc.RespondToConnection(c.Request.Context(), caller(c), c.Param("id"), req.Status)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, convo)
}

type sendRequest struct {
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *chatHandler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.log, badRequest("invalid request body"))
		return
	}

	msg, created, err := h.svc.SendMessage(c.Request.Context(), caller(c), chat.SendParams{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, msg)
}

func (h *chatHandler) history(c *gin.Context) {
	since, err := queryInt(c, "since")
	if err != nil {
		abortWithError(c, h.log, badRequest("since must be an integer"))
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		abortWithError(c, h.log, badRequest("limit must be an integer"))
		return
	}

	page, err := h.svc.GetHistory(c.Request.Context(), caller(c), c.Param("id"), since, int(limit))
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func queryInt(c *gin.Context, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
