package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/inconshreveable/log15.v2"
)

// RequestLogger writes one access record per request.
func RequestLogger(log log15.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ctx := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"took", time.Since(start),
			"ip", c.ClientIP(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", ctx...)
		case status >= http.StatusBadRequest:
			log.Warn("request", ctx...)
		default:
			log.Info("request", ctx...)
		}
	}
}

// RequireSecret rejects requests that do not carry secret in one of the
// given headers, or in the query parameter when query is set. An empty
// secret locks the route.
func RequireSecret(secret, query string, headers ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var got string
		for _, h := range headers {
			if got = c.GetHeader(h); got != "" {
				break
			}
		}
		if got == "" && query != "" {
			got = c.Query(query)
		}
		if !secretEqual(secret, got) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "unauthorized"})
			return
		}
		c.Next()
	}
}

func secretEqual(want, got string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}
