package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/webhook"
)

const stripeSignatureHeader = "Stripe-Signature"

// handleStripeWebhook acknowledges every recognized outcome with 200 so the provider
// stops retrying. Only storage faults answer 500.
func (server *Server) handleStripeWebhook(ctx *gin.Context) {
	if server.deps.Webhooks == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("WEBHOOK_UNAVAILABLE", "stripe webhooks are not configured"))
		return
	}
	remoteIP := ctx.ClientIP()
	if !server.limiter.Allow(remoteIP) {
		server.deps.Webhooks.RecordRateLimited(ctx.Request.Context(), remoteIP)
		ctx.JSON(http.StatusTooManyRequests, errorResponse("RATE_LIMITED", "too many webhook requests"))
		return
	}
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBytes))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_PAYLOAD", "could not read body"))
		return
	}

	outcome, err := server.deps.Webhooks.Process(ctx.Request.Context(), webhook.Delivery{
		Payload:         payload,
		SignatureHeader: ctx.GetHeader(stripeSignatureHeader),
		RemoteIP:        remoteIP,
	})
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature), errors.Is(err, webhook.ErrMissingSignature):
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_SIGNATURE", "webhook signature verification failed"))
		return
	case errors.Is(err, webhook.ErrMalformedEvent):
		ctx.JSON(http.StatusBadRequest, errorResponse("MALFORMED_EVENT", "webhook payload could not be parsed"))
		return
	case err != nil:
		server.logger.Error("webhook processing failed", zap.String("ip", remoteIP), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("PROCESSING_ERROR", "webhook could not be applied"))
		return
	}

	response := gin.H{"ok": true, "eventId": outcome.EventID}
	switch {
	case outcome.Duplicate:
		response["duplicate"] = true
	case outcome.Ignored:
		response["ignored"] = true
		response["processed"] = false
	default:
		response["processed"] = outcome.Processed
	}
	ctx.JSON(http.StatusOK, response)
}

func (server *Server) handleRecentWebhooks(ctx *gin.Context) {
	if server.deps.Webhooks == nil {
		ctx.JSON(http.StatusOK, gin.H{"ok": true, "events": []webhook.RecentEvent{}})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "events": server.deps.Webhooks.Recent()})
}
