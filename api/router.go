package api

import (
	"custody-node/api/handlers"
	"custody-node/internal/metrics"
	"custody-node/internal/orchestrator"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter wires the round endpoints of every ceremony to orch.
func SetupRouter(orch *orchestrator.Orchestrator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), metrics.GinMiddleware())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	h := handlers.NewHandler(orch)
	api := router.Group("/api")

	ecdsa := api.Group("/ecdsa")
	ecdsa.POST("/dkg/initialize", h.EcdsaDkgInit)
	ecdsa.POST("/dkg/round/:n", h.EcdsaDkgRound)
	ecdsa.POST("/dkg/finalize", h.EcdsaDkgFinalize)
	ecdsa.POST("/sign/initialize", h.EcdsaSignInit)
	ecdsa.POST("/sign/round/:n", h.EcdsaSignRound)
	ecdsa.POST("/sign/share", h.EcdsaSignShare)
	ecdsa.POST("/sign/combine", h.EcdsaSignCombine)
	ecdsa.POST("/recovery/sign", h.EcdsaRecoverySign)

	eddsa := api.Group("/eddsa")
	eddsa.POST("/dkg/initialize", h.EddsaDkgInit)
	eddsa.POST("/dkg/round/:n", h.EddsaDkgRound)
	eddsa.POST("/dkg/finalize", h.EddsaDkgFinalize)
	eddsa.POST("/sign/initialize", h.EddsaSignInit)
	eddsa.POST("/sign/round/:n", h.EddsaSignRound)
	eddsa.POST("/sign/combine", h.EddsaSignCombine)
	eddsa.POST("/recovery/sign", h.EddsaRecoverySign)

	return router
}
