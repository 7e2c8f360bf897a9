// Package logr provides gin middlewares logging through github.com/go-logr/logr.
// Code structure based on ginrus package.
package logr

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

// Ginlogr returns a middleware logging every request. Errors attached to the
// gin context are logged with logr.Error, everything else at V(verbosity).
// Requests to quiet paths, such as health checks, are only logged at V(4).
func Ginlogr(logger logr.Logger, verbosity int, quiet ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// some evil middlewares modify this values
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		c.Next()

		latency := time.Since(start)
		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				logger.Error(errors.New(e), "Request failed", "method", c.Request.Method, "path", path, "status", c.Writer.Status())
			}
			return
		}

		level := verbosity
		for _, q := range quiet {
			if path == q {
				level = 4
			}
		}
		logger.V(level).Info(path,
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"query", query,
			"ip", c.ClientIP(),
			"user-agent", c.Request.UserAgent(),
			"latency", latency,
		)
	}
}

// RecoveryWithLogr returns a middleware that recovers from panics, logs them
// with the stack and answers 500. Broken connections are not answered.
func RecoveryWithLogr(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			err, ok := recovered.(error)
			if !ok {
				err = fmt.Errorf("%v", recovered)
			}
			httpRequest, _ := httputil.DumpRequest(c.Request, false)

			if brokenPipe(err) {
				logger.Error(err, "Connection closed", "path", c.Request.URL.Path, "request", string(httpRequest))
				c.Error(err) //nolint:errcheck // connection is dead, can't handle error
				c.Abort()
				return
			}

			logger.Error(err, "Recovered from panic",
				"request", string(httpRequest),
				"stack", string(debug.Stack()),
			)
			c.AbortWithStatus(http.StatusInternalServerError)
		}()
		c.Next()
	}
}

func brokenPipe(err error) bool {
	var ne *net.OpError
	if !errors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
