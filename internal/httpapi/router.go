// Package httpapi exposes the identity endpoints, the chat API and the
// realtime channel over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/auth"
	"github.com/linkwell/linkwell/internal/chat"
	"github.com/linkwell/linkwell/store/user"
)

// Options wires the handlers. Limiter and Realtime are optional.
type Options struct {
	Chat     *chat.Service
	Users    user.Store
	Auth     *auth.Authenticator
	Realtime http.Handler
	Limiter  Limiter
	Logger   *zap.Logger
}

// NewRouter builds the gin engine serving every endpoint.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	identity := &identityHandler{users: opts.Users, auth: opts.Auth, log: log}
	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", identity.register)
	authGroup.POST("/login", identity.login)

	chats := &chatHandler{svc: opts.Chat, log: log}
	api := r.Group("/api/chat", requireAuth(opts.Auth, log))
	api.GET("", chats.list)
	api.POST("/request", chats.request)
	api.PATCH("/:id", chats.respond)
	api.GET("/:id/messages", chats.history)

	send := []gin.HandlerFunc{}
	if opts.Limiter != nil {
		send = append(send, rateLimit(opts.Limiter, "send", log))
	}
	send = append(send, chats.send)
	api.POST("/:id/message", send...)

	if opts.Realtime != nil {
		r.GET("/ws", gin.WrapH(opts.Realtime))
	}
	return r
}
