package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linkwell/linkwell/internal/apperr"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError maps err onto its status and the JSON error envelope.
// Internal failures are logged with their cause and answered generically.
func abortWithError(c *gin.Context, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		kind = apperr.KindInternal
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, errorBody{Error: errorDetail{
		Kind:    string(kind),
		Message: apperr.MessageOf(err),
	}})
}

func badRequest(message string) error {
	return apperr.New(apperr.KindValidation, "", message)
}
