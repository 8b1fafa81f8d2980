package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	logx "github.com/ss2dbx/server/pkg/logger"
)

// RequestLogger logs one line per request through logx.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := logx.Info()
		if c.Writer.Status() >= 500 {
			ev = logx.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("route", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP request")
	}
}
