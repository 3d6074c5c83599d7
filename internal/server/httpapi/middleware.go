package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

const callerKey = "caller"

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, p any) {
		s.fail(c, fmt.Errorf("panic: %v", p))
	})
}

// requestLogger writes one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		}
		if u := caller(c); u != nil {
			args = append(args, "user_id", u.ID)
		}

		ctx := c.Request.Context()
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error(ctx, "request", args...)
			return
		}
		s.logger.Info(ctx, "request", args...)
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Metrics.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

// requireAuth resolves the bearer token into the calling user.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.Auth.Resolve(c.Request.Context(), c.GetHeader(common.AuthorizationHeaderName))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(callerKey, u)
		c.Next()
	}
}

// optionalAuth attaches the caller when a valid token is present and
// otherwise lets the request through anonymously.
func (s *Server) optionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader(common.AuthorizationHeaderName); header != "" {
			if u, err := s.Auth.Resolve(c.Request.Context(), header); err == nil {
				c.Set(callerKey, u)
			}
		}
		c.Next()
	}
}

// rateLimit throttles public endpoints per client IP. Limiter failures let
// the request through.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Limiter == nil {
			c.Next()
			return
		}
		allowed, err := s.Limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			s.logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
		} else if !allowed {
			s.fail(c, errTooManyRequests)
			return
		}
		c.Next()
	}
}

func caller(c *gin.Context) *models.User {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}
