package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/payments"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

type transactionPayload struct {
	Type          string    `json:"type"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Timestamp     time.Time `json:"timestamp"`
	Description   string    `json:"description"`
}

type planPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Price          string `json:"price"`
	PriceInCents   int64  `json:"priceInCents"`
	Currency       string `json:"currency"`
	Credits        int64  `json:"credits"`
	PricePerCredit string `json:"pricePerCredit"`
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type adminCreditRequest struct {
	Identity    string `json:"identity"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func toTransactionPayloads(transactions []ledger.Transaction) []transactionPayload {
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, transactionPayload{
			Type:          string(transaction.Kind),
			Amount:        transaction.Amount.Int64(),
			BalanceBefore: transaction.BalanceBefore.Int64(),
			BalanceAfter:  transaction.BalanceAfter.Int64(),
			Timestamp:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
			Description:   transaction.Description,
		})
	}
	return payloads
}

func (server *Server) handleStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"message": "AurisVoice backend is running",
		"stripe": gin.H{
			"configured": server.deps.Checkout != nil,
			"webhook":    server.deps.Webhooks != nil,
			"mode":       server.deps.StripeMode,
		},
	})
}

func (server *Server) handleCredits(ctx *gin.Context) {
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	identity := identityFrom(ctx)
	entry, err := server.deps.Ledger.Balance(requestCtx, identity)
	if err != nil {
		server.writeServiceError(ctx, "credits", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"identity": identity.String(),
		"credits":  entry.Balance.Int64(),
		"history":  toTransactionPayloads(entry.RecentHistory(server.deps.CreditHistoryMax)),
	})
}

func (server *Server) handlePlans(ctx *gin.Context) {
	if server.deps.Catalog == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("PLANS_UNAVAILABLE", "no plans configured"))
		return
	}
	plans := server.deps.Catalog.Plans()
	payloads := make([]planPayload, 0, len(plans))
	for _, plan := range plans {
		payloads = append(payloads, planPayload{
			ID:             plan.ID,
			Name:           plan.Name,
			Description:    plan.Description,
			Price:          plan.Price().StringFixed(2),
			PriceInCents:   plan.PriceCents,
			Currency:       strings.ToUpper(plan.Currency),
			Credits:        plan.Credits,
			PricePerCredit: plan.PricePerCredit().StringFixed(2),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "plans": payloads})
}

func (server *Server) handleLanguages(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"languages":       dubbing.SupportedLanguages(),
		"defaultLanguage": dubbing.DefaultLanguageTag,
		"defaultVoice":    dubbing.DefaultVoice,
	})
}

func (server *Server) handleCheckout(ctx *gin.Context) {
	if server.deps.Checkout == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("CHECKOUT_UNAVAILABLE", "stripe is not configured"))
		return
	}
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_PAYLOAD", "expected JSON body"))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	identity := identityFrom(ctx)
	checkout, err := server.deps.Checkout.CreateCheckoutSession(requestCtx, request.Plan, identity)
	if err != nil {
		if errors.Is(err, payments.ErrUnknownPlan) {
			ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_PLAN", "Invalid plan selected"))
			return
		}
		server.logger.Error("checkout failed", zap.String("plan", request.Plan), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("CHECKOUT_FAILED", "checkout session could not be created"))
		return
	}
	server.logger.Info("checkout session created",
		zap.String("session_id", checkout.SessionID),
		zap.String("plan", request.Plan),
		zap.String("identity", identity.String()),
	)
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "sessionId": checkout.SessionID, "url": checkout.URL})
}

func (server *Server) handleAdminGrant(ctx *gin.Context) {
	request, identity, ok := server.bindAdminRequest(ctx)
	if !ok {
		return
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_AMOUNT", err.Error()))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	balance, err := server.deps.Ledger.AdminAdd(requestCtx, identity, amount, request.Description)
	if err != nil {
		server.writeServiceError(ctx, "admin grant", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "identity": identity.String(), "credits": balance.Int64()})
}

func (server *Server) handleAdminReset(ctx *gin.Context) {
	request, identity, ok := server.bindAdminRequest(ctx)
	if !ok {
		return
	}
	amount, err := ledger.NewCredits(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_AMOUNT", err.Error()))
		return
	}
	requestCtx, cancel := server.requestContext(ctx)
	defer cancel()
	entry, err := server.deps.Ledger.Reset(requestCtx, identity, amount)
	if err != nil {
		server.writeServiceError(ctx, "admin reset", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"identity": identity.String(),
		"credits":  entry.Balance.Int64(),
		"history":  toTransactionPayloads(entry.History),
	})
}

func (server *Server) bindAdminRequest(ctx *gin.Context) (adminCreditRequest, ledger.Identity, bool) {
	var request adminCreditRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_PAYLOAD", "expected JSON body"))
		return adminCreditRequest{}, ledger.Identity{}, false
	}
	identity, err := ledger.NewIdentity(request.Identity)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_IDENTITY", err.Error()))
		return adminCreditRequest{}, ledger.Identity{}, false
	}
	return request, identity, true
}
