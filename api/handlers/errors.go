package handlers

import (
	"custody-node/internal/dto"
	"custody-node/internal/logger"
	"custody-node/internal/mpcerr"
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusFor maps an error category to the HTTP status returned for it.
func statusFor(category string) int {
	switch category {
	case "validation", "pinning", "round_mismatch", "out_of_sequence":
		return http.StatusBadRequest
	case "authentication":
		return http.StatusUnauthorized
	case "decryption", "envelope_corrupt", "keychain_mismatch", "invalid_share_proof", "signature_combination":
		return http.StatusUnprocessableEntity
	case "upstream":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	category := mpcerr.Category(err)
	status := statusFor(category)
	if status == http.StatusInternalServerError {
		logger.Log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, dto.ErrorResponse{
		Error:    err.Error(),
		Category: category,
		Retry:    mpcerr.Retryable(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Category: "validation"})
}
