package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/auth"
)

const identityKey = "linkwell.identity"

// requestLogger writes one access log line per request.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id, ok := identityFrom(c); ok {
			fields = append(fields, zap.String("user_id", id.UserID))
		}
		if c.Writer.Status() >= 500 {
			log.Warn("http request", fields...)
			return
		}
		log.Info("http request", fields...)
	}
}

// requireAuth rejects requests without a valid bearer token and stores the
// caller's identity on the context.
func requireAuth(verifier auth.Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			abortWithError(c, log, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// caller returns the authenticated identity, or the zero identity which the
// orchestrator rejects as unauthenticated.
func caller(c *gin.Context) auth.Identity {
	id, _ := identityFrom(c)
	return id
}
