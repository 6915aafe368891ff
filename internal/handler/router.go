package handler

import (
	"sharetips/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(svc *service.Services, appEnv string) *gin.Engine {
	if appEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(svc)

	api := r.Group("/api/v1")
	{
		authed := api.Group("", IdentityMiddleware())
		{
			authed.GET("/wallet", h.GetWallet)
			authed.GET("/wallet/transactions", h.ListTransactions)
			authed.POST("/wallet/payouts", h.RequestPayout)

			authed.POST("/purchases", h.Purchase)
			authed.GET("/purchases", h.ListPurchases)

			authed.POST("/subscriptions", h.Subscribe)
			authed.GET("/subscriptions", h.ListSubscriptions)
			authed.DELETE("/subscriptions/:tipster_id", h.Unsubscribe)
			authed.GET("/subscribers", h.ListSubscribers)
		}

		access := api.Group("/access", OptionalIdentityMiddleware())
		{
			access.GET("/:ticket_id", h.ResolveAccess)
			access.POST("/batch", h.ResolveAccessBatch)
		}
	}

	// gateway callbacks; network policy keeps these off the public edge
	internal := r.Group("/internal")
	{
		internal.POST("/payouts/:payout_no/complete", h.CompletePayout)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
