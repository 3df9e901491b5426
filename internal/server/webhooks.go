package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Processor payloads are small; anything larger is hostile.
const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook receives processor event deliveries. Handler faults
// are queued internally and acknowledged with 200 so the processor does not
// redeliver; only signature and payload rejections surface as errors.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signature := c.GetHeader("Carepay-Signature")
	if err := s.webhookSvc.Process(c.Request.Context(), payload, signature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
