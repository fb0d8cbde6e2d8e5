// Package httpapi exposes the credit ledger, checkout, webhooks and dubbing over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/payments"
	"github.com/MarkoPoloResearchLab/aurisvoice/internal/webhook"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	// DefaultIdentity owns requests that carry neither a session nor an identity header.
	DefaultIdentity = "anonymous"
	// IdentityHeader names the trusted identity header used without sessions.
	IdentityHeader = "X-User-ID"
	// AdminTokenHeader carries the operator token for admin routes.
	AdminTokenHeader = "X-Admin-Token"

	claimsContextKey   = "auth_claims"
	identityContextKey = "identity"

	defaultRequestTimeout = 10 * time.Second
	defaultHistoryLimit   = 10
	defaultMaxUploadBytes = 50 << 20
	maxWebhookBytes       = 1 << 20
	shutdownTimeout       = 5 * time.Second
)

var ErrInvalidConfig = errors.New("invalid http api configuration")

// CreditLedger is the ledger surface used by the API.
type CreditLedger interface {
	Balance(ctx context.Context, identity ledger.Identity) (ledger.Entry, error)
	AdminAdd(ctx context.Context, identity ledger.Identity, amount ledger.PositiveCredits, description string) (ledger.Credits, error)
	Reset(ctx context.Context, identity ledger.Identity, amount ledger.Credits) (ledger.Entry, error)
}

// Dubber runs charged dubbing jobs.
type Dubber interface {
	Quote(request dubbing.Request) (float64, ledger.Credits)
	Dub(ctx context.Context, request dubbing.Request) (dubbing.Result, error)
}

// WebhookProcessor applies signed provider deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhook.Delivery) (webhook.Outcome, error)
	RecordRateLimited(ctx context.Context, remoteIP string)
	Recent() []webhook.RecentEvent
}

// CheckoutCreator opens checkout sessions.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, planID string, identity ledger.Identity) (payments.CheckoutSession, error)
}

// HistoryLister lists and looks up finished dubbing jobs.
type HistoryLister interface {
	List(ctx context.Context, identity ledger.Identity, limit int) ([]dubbing.HistoryItem, error)
	Find(ctx context.Context, identity ledger.Identity, jobID string) (dubbing.HistoryItem, error)
}

// CreditStatusReporter reports the speech provider account balance.
type CreditStatusReporter interface {
	Status(ctx context.Context) dubbing.CreditStatus
}

// Dependencies wires the API. Ledger and Dubber are required; nil optional
// collaborators disable their routes with 503.
type Dependencies struct {
	Logger           *zap.Logger
	Ledger           CreditLedger
	Dubber           Dubber
	Webhooks         WebhookProcessor
	Checkout         CheckoutCreator
	Catalog          *payments.Catalog
	History          HistoryLister
	ProviderCredit   CreditStatusReporter
	SessionValidator *sessionvalidator.Validator
	MetricsHandler   http.Handler

	AllowedOrigins   []string
	AdminToken       string
	OutputDir        string
	StripeMode       string
	WebhookRate      rate.Limit
	WebhookBurst     int
	DubRate          rate.Limit
	DubBurst         int
	MaxUploadBytes   int64
	RequestTimeout   time.Duration
	CreditHistoryMax int
	Clock            func() time.Time
}

// Server is the HTTP façade.
type Server struct {
	deps       Dependencies
	logger     *zap.Logger
	limiter    *ipRateLimiter
	dubLimiter *ipRateLimiter
	router     *gin.Engine
}

// NewServer validates dependencies and builds the router.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("%w: ledger is nil", ErrInvalidConfig)
	}
	if deps.Dubber == nil {
		return nil, fmt.Errorf("%w: dubber is nil", ErrInvalidConfig)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultRequestTimeout
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.CreditHistoryMax <= 0 {
		deps.CreditHistoryMax = defaultHistoryLimit
	}
	if deps.WebhookRate <= 0 {
		deps.WebhookRate = rate.Every(6 * time.Second)
	}
	if deps.WebhookBurst <= 0 {
		deps.WebhookBurst = 10
	}
	if deps.DubRate <= 0 {
		deps.DubRate = rate.Every(12 * time.Second)
	}
	if deps.DubBurst <= 0 {
		deps.DubBurst = 5
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	server := &Server{
		deps:       deps,
		logger:     deps.Logger,
		limiter:    newIPRateLimiter(deps.WebhookRate, deps.WebhookBurst, deps.Clock),
		dubLimiter: newIPRateLimiter(deps.DubRate, deps.DubBurst, deps.Clock),
	}
	server.router = server.setupRouter()
	return server, nil
}

// Handler returns the HTTP handler.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, logger *zap.Logger, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("aurisd listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if len(server.deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.deps.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Origin", "Accept", IdentityHeader, AdminTokenHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", server.handleStatus)
	if server.deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(server.deps.MetricsHandler))
	}
	if server.deps.OutputDir != "" {
		router.Static(dubbing.OutputURLPrefix, server.deps.OutputDir)
	}

	public := router.Group("/api")
	public.GET("/plans", server.handlePlans)
	public.GET("/languages", server.handleLanguages)
	public.GET("/provider/credit", server.handleProviderCredit)
	public.POST("/stripe/webhook", server.handleStripeWebhook)

	user := router.Group("/api")
	user.Use(server.identityMiddleware()...)
	user.GET("/credits", server.handleCredits)
	user.POST("/stripe/checkout", server.handleCheckout)
	user.POST("/dub", server.dubRateLimit, server.handleDub)
	user.GET("/dubbing/history", server.handleDubbingHistory)
	user.GET("/export/:id", server.handleExport)
	user.GET("/export/:id/metadata", server.handleExportMetadata)

	admin := router.Group("/api/admin")
	admin.Use(server.adminMiddleware)
	admin.POST("/credits/grant", server.handleAdminGrant)
	admin.POST("/credits/reset", server.handleAdminReset)
	admin.GET("/webhooks/recent", server.handleRecentWebhooks)

	return router
}

func (server *Server) identityMiddleware() []gin.HandlerFunc {
	resolve := func(ctx *gin.Context) {
		raw := DefaultIdentity
		if claims := getClaims(ctx); claims != nil {
			raw = claims.GetUserID()
		} else if header := strings.TrimSpace(ctx.GetHeader(IdentityHeader)); header != "" && server.deps.SessionValidator == nil {
			raw = header
		}
		identity, err := ledger.NewIdentity(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("UNAUTHORIZED", "missing identity"))
			return
		}
		ctx.Set(identityContextKey, identity)
		ctx.Next()
	}
	if server.deps.SessionValidator == nil {
		return []gin.HandlerFunc{resolve}
	}
	return []gin.HandlerFunc{server.deps.SessionValidator.GinMiddleware(claimsContextKey), resolve}
}

func (server *Server) adminMiddleware(ctx *gin.Context) {
	expected := server.deps.AdminToken
	provided := ctx.GetHeader(AdminTokenHeader)
	if expected == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("UNAUTHORIZED", "admin token required"))
		return
	}
	ctx.Next()
}

func (server *Server) dubRateLimit(ctx *gin.Context) {
	if !server.dubLimiter.Allow(ctx.ClientIP()) {
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("RATE_LIMITED", "too many requests, please try again after 1 minute"))
		return
	}
	ctx.Next()
}

func (server *Server) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), server.deps.RequestTimeout)
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func identityFrom(ctx *gin.Context) ledger.Identity {
	value, _ := ctx.Get(identityContextKey)
	identity, _ := value.(ledger.Identity)
	return identity
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"ok":      false,
		"error":   code,
		"message": message,
	}
}

// writeServiceError maps domain errors onto status codes.
func (server *Server) writeServiceError(ctx *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidIdentity), errors.Is(err, ledger.ErrInvalidAmount):
		ctx.JSON(http.StatusBadRequest, errorResponse("INVALID_REQUEST", err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		ctx.JSON(http.StatusGatewayTimeout, errorResponse("TIMEOUT", operation+" timed out"))
	default:
		server.logger.Error(operation+" failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("INTERNAL_ERROR", operation+" failed"))
	}
}
