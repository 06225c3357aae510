package handler

import (
	"log/slog"
	"net/http"

	"walletrecharge/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, authManager *auth.Manager, logger *slog.Logger, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	// 注册中间件
	r.Use(RequestLoggerMiddleware(logger))
	r.Use(RecoveryMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")

		// 网关回调不带用户令牌，单独注册在鉴权之外
		wallet.POST("/recharge/webhook", h.Webhook)

		authed := wallet.Group("", auth.RequireAccessToken(authManager))
		{
			authed.GET("/balance", h.GetBalance)
			authed.GET("/transactions", h.ListTransactions)

			recharge := authed.Group("/recharge")
			recharge.POST("/request", h.CreateRechargeRequest)
			recharge.GET("/requests", h.ListRechargeRequests)
			recharge.GET("/requests/:id", h.GetRechargeRequest)
			recharge.POST("/order", h.CreateOrder)
			recharge.POST("/verify", h.Verify)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
