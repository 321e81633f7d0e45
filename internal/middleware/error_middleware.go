package middleware

import (
	"evalhub/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler logs every error the handlers attached with c.Error once the
// response has been written. Handlers own the client-facing body; this is
// the single place request errors reach the log, with request id and user id
// pulled from the context.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		log := l
		if log == nil {
			log = logger.GetGlobalLogger()
		}
		if log == nil {
			return
		}
		for _, ginErr := range c.Errors {
			log.ErrorfCtx(c.Request.Context(), "request error (%d): %s", c.Writer.Status(), ginErr.Err.Error())
		}
	}
}
