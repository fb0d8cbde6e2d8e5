package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"

	MetadataIdentity = "identity"
	MetadataCredits  = "credits"
	MetadataPlan     = "plan"

	successPath = "/payment/success?session_id={CHECKOUT_SESSION_ID}"
	cancelPath  = "/payment/cancel"
)

var errInvalidEnvironment = fmt.Errorf("stripe environment must be %q or %q", EnvironmentTest, EnvironmentLive)

// CheckoutSession is the provider session a buyer is redirected to.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// SessionCreator creates provider checkout sessions.
type SessionCreator func(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// StripeSessionCreator calls the Stripe Checkout API.
func StripeSessionCreator(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return session.New(params)
}

// CheckoutConfig holds the Stripe settings used for checkout.
type CheckoutConfig struct {
	SecretKey   string
	Environment string
	AppURL      string
}

// CheckoutCreator opens Stripe Checkout sessions for catalog plans.
type CheckoutCreator struct {
	catalog     *Catalog
	create      SessionCreator
	environment string
	appURL      string
}

// NewCheckoutCreator validates the Stripe key against the environment and installs it.
// A nil creator selects the live Stripe API.
func NewCheckoutCreator(catalog *Catalog, config CheckoutConfig, create SessionCreator) (*CheckoutCreator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog is nil", ErrInvalidConfig)
	}
	environment, err := NormalizeEnvironment(config.Environment)
	if err != nil {
		return nil, err
	}
	appURL := strings.TrimRight(strings.TrimSpace(config.AppURL), "/")
	if appURL == "" {
		return nil, fmt.Errorf("%w: app url is required", ErrInvalidConfig)
	}
	if create == nil {
		secretKey := strings.TrimSpace(config.SecretKey)
		if err := validateSecretKey(environment, secretKey); err != nil {
			return nil, err
		}
		stripe.Key = secretKey
		create = StripeSessionCreator
	}
	return &CheckoutCreator{catalog: catalog, create: create, environment: environment, appURL: appURL}, nil
}

// Environment reports whether sessions are created in test or live mode.
func (creator *CheckoutCreator) Environment() string {
	return creator.environment
}

// CreateCheckoutSession opens a one-off card payment for a plan. The purchased credits and
// buyer identity travel in the session metadata and come back in the webhook.
func (creator *CheckoutCreator) CreateCheckoutSession(ctx context.Context, planID string, identity ledger.Identity) (CheckoutSession, error) {
	plan, err := creator.catalog.Lookup(planID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if identity.String() == "" {
		return CheckoutSession{}, fmt.Errorf("%w: empty value", ledger.ErrInvalidIdentity)
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ClientReferenceID:  stripe.String(identity.String()),
		SuccessURL:         stripe.String(creator.appURL + successPath),
		CancelURL:          stripe.String(creator.appURL + cancelPath),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(plan.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(plan.Name),
						Description: stripe.String(plan.Description),
					},
					UnitAmount: stripe.Int64(plan.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata(MetadataPlan, plan.ID)
	params.AddMetadata(MetadataCredits, strconv.FormatInt(plan.Credits, 10))
	params.AddMetadata(MetadataIdentity, identity.String())

	created, err := creator.create(ctx, params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe checkout: %w", err)
	}
	if created == nil {
		return CheckoutSession{}, errors.New("stripe checkout: empty session")
	}
	return CheckoutSession{SessionID: created.ID, URL: created.URL}, nil
}

// NormalizeEnvironment lowercases the Stripe environment, defaulting to test.
func NormalizeEnvironment(raw string) (string, error) {
	environment := strings.ToLower(strings.TrimSpace(raw))
	if environment == "" {
		environment = EnvironmentTest
	}
	switch environment {
	case EnvironmentTest, EnvironmentLive:
		return environment, nil
	default:
		return "", errInvalidEnvironment
	}
}

func validateSecretKey(environment string, key string) error {
	switch environment {
	case EnvironmentTest:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("%w: stripe environment %q requires a test secret key (sk_test/rk_test)", ErrInvalidConfig, EnvironmentTest)
	case EnvironmentLive:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("%w: stripe environment %q requires a live secret key (sk_live/rk_live)", ErrInvalidConfig, EnvironmentLive)
	default:
		return errInvalidEnvironment
	}
}
