package handlers

import (
	"custody-node/internal/dto"

	"github.com/gin-gonic/gin"
)

// EcdsaSignInit handles POST /api/ecdsa/sign/initialize.
func (h *Handler) EcdsaSignInit(c *gin.Context) {
	var req dto.EcdsaSignInitRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EcdsaSignInit(c.Request.Context(), &req)
	respond(c, resp, err)
}

// EcdsaSignRound handles POST /api/ecdsa/sign/round/:n.
func (h *Handler) EcdsaSignRound(c *gin.Context) { h.round(h.orch.EcdsaSignRound)(c) }

// EcdsaSignShare handles POST /api/ecdsa/sign/share.
func (h *Handler) EcdsaSignShare(c *gin.Context) { h.init(h.orch.EcdsaSignShare)(c) }

// EcdsaSignCombine handles POST /api/ecdsa/sign/combine.
func (h *Handler) EcdsaSignCombine(c *gin.Context) {
	var req dto.RoundRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EcdsaSignCombine(c.Request.Context(), &req)
	respond(c, resp, err)
}

// EddsaSignInit handles POST /api/eddsa/sign/initialize.
func (h *Handler) EddsaSignInit(c *gin.Context) {
	var req dto.EddsaSignInitRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EddsaSignInit(c.Request.Context(), &req)
	respond(c, resp, err)
}

// EddsaSignRound handles POST /api/eddsa/sign/round/:n.
func (h *Handler) EddsaSignRound(c *gin.Context) { h.round(h.orch.EddsaSignRound)(c) }

// EddsaSignCombine handles POST /api/eddsa/sign/combine.
func (h *Handler) EddsaSignCombine(c *gin.Context) {
	var req dto.RoundRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EddsaSignCombine(c.Request.Context(), &req)
	respond(c, resp, err)
}

// EcdsaRecoverySign handles POST /api/ecdsa/recovery/sign.
func (h *Handler) EcdsaRecoverySign(c *gin.Context) {
	var req dto.RecoverySignRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EcdsaRecoverySign(c.Request.Context(), &req)
	respond(c, resp, err)
}

// EddsaRecoverySign handles POST /api/eddsa/recovery/sign.
func (h *Handler) EddsaRecoverySign(c *gin.Context) {
	var req dto.RecoverySignRequest
	if !bind(c, &req) {
		return
	}
	resp, err := h.orch.EddsaRecoverySign(c.Request.Context(), &req)
	respond(c, resp, err)
}
