package auth

import (
	"net/http"
	"strings"
	"time"

	"walletrecharge/pkg/logger"
	"walletrecharge/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken 校验 Bearer 令牌，把 user_id 作为 owner_id 写入请求上下文
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if !strings.HasPrefix(raw, bearerPrefix) {
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "缺少访问令牌")
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), time.Now())
		if err != nil {
			logger.From(c.Request.Context()).Debug("访问令牌校验失败", "error", err)
			response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, "访问令牌无效或已过期")
			return
		}

		ctx := WithOwner(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(logger.With(ctx, logger.From(ctx).With("owner_id", claims.UserID)))
		c.Set(ginOwnerKey, claims.UserID)

		c.Next()
	}
}
