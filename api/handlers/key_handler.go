package handlers

import (
	"context"
	"custody-node/internal/dto"
	"custody-node/internal/orchestrator"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	orch *orchestrator.Orchestrator
}

// NewHandler returns a Handler serving orch.
func NewHandler(orch *orchestrator.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

type roundFunc func(ctx context.Context, round int, req *dto.RoundRequest) (*dto.RoundResponse, error)

func roundParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		badRequest(c, fmt.Errorf("invalid round %q", c.Param("n")))
		return 0, false
	}
	return n, true
}

// bind decodes the JSON body into req, answering 400 on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, err)
		return false
	}
	return true
}

func respond[T any](c *gin.Context, resp T, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) init(fn func(context.Context, *dto.RoundRequest) (*dto.RoundResponse, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.RoundRequest
		if !bind(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), &req)
		respond(c, resp, err)
	}
}

func (h *Handler) round(fn roundFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, ok := roundParam(c)
		if !ok {
			return
		}
		var req dto.RoundRequest
		if !bind(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), n, &req)
		respond(c, resp, err)
	}
}

func (h *Handler) finalize(fn func(context.Context, *dto.DkgFinalizeRequest) (*dto.KeychainResponse, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.DkgFinalizeRequest
		if !bind(c, &req) {
			return
		}
		resp, err := fn(c.Request.Context(), &req)
		respond(c, resp, err)
	}
}

// EcdsaDkgInit handles POST /api/ecdsa/dkg/initialize.
func (h *Handler) EcdsaDkgInit(c *gin.Context) { h.init(h.orch.EcdsaDkgInit)(c) }

// EcdsaDkgRound handles POST /api/ecdsa/dkg/round/:n.
func (h *Handler) EcdsaDkgRound(c *gin.Context) { h.round(h.orch.EcdsaDkgRound)(c) }

// EcdsaDkgFinalize handles POST /api/ecdsa/dkg/finalize.
func (h *Handler) EcdsaDkgFinalize(c *gin.Context) { h.finalize(h.orch.EcdsaDkgFinalize)(c) }

// EddsaDkgInit handles POST /api/eddsa/dkg/initialize.
func (h *Handler) EddsaDkgInit(c *gin.Context) { h.init(h.orch.EddsaDkgInit)(c) }

// EddsaDkgRound handles POST /api/eddsa/dkg/round/:n.
func (h *Handler) EddsaDkgRound(c *gin.Context) { h.round(h.orch.EddsaDkgRound)(c) }

// EddsaDkgFinalize handles POST /api/eddsa/dkg/finalize.
func (h *Handler) EddsaDkgFinalize(c *gin.Context) { h.finalize(h.orch.EddsaDkgFinalize)(c) }
