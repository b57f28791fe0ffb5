package server

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	obscontext "github.com/smallbiznis/subhub/internal/observability/context"
	"github.com/smallbiznis/subhub/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	HeaderUserID     = "X-User-ID"
	HeaderAdminToken = "X-Admin-Token"
	contextUserIDKey = "user_id"
)

// UserRequired resolves the calling user from the gateway-provided header.
// Authentication happens upstream; this only scopes the request.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil || userID <= 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithUserID(c.Request.Context(), userID.String())
		ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeUser), userID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// AdminRequired rejects every admin call when no token is configured.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.AdminToken)
		provided := strings.TrimSpace(c.GetHeader(HeaderAdminToken))
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeSystem), "admin")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) OrderRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.orderLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := currentUserID(c)
		result := s.orderLimiter.AllowUser(ctx, userID.String())
		if result.Allowed {
			c.Next()
			return
		}

		logger.FromContext(ctx).Warn("order rate limit exceeded",
			zap.String("route", c.FullPath()),
			zap.Duration("retry_after", result.RetryAfter),
		)
		s.obsMetrics.RecordLifecycleEvent(ctx, "order_mutation", "rate_limited")

		retryAfter := int(result.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		AbortWithError(c, ErrRateLimited)
	}
}

func currentUserID(c *gin.Context) snowflake.ID {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0
	}
	id, _ := value.(snowflake.ID)
	return id
}
