package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const (
	testAppURL           = "https://app.example.com/"
	testIdentity         = "buyer-1"
	errorMismatchMessage = "expected %v, got %v"
)

func mustCatalog(test *testing.T) *Catalog {
	test.Helper()
	catalog, err := NewCatalog(DefaultPlans(), map[string]int64{PlanPro: 75})
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	return catalog
}

func TestCatalogPricing(test *testing.T) {
	test.Parallel()
	catalog := mustCatalog(test)

	testCases := []struct {
		planID         string
		credits        int64
		price          string
		pricePerCredit string
	}{
		{planID: PlanStarter, credits: 15, price: "5.00", pricePerCredit: "0.33"},
		{planID: "PRO", credits: 75, price: "15.00", pricePerCredit: "0.2"},
		{planID: PlanPremium, credits: 150, price: "30.00", pricePerCredit: "0.2"},
	}
	for _, testCase := range testCases {
		plan, err := catalog.Lookup(testCase.planID)
		if err != nil {
			test.Fatalf("%s: %v", testCase.planID, err)
		}
		if plan.Credits != testCase.credits {
			test.Fatalf(errorMismatchMessage, testCase.credits, plan.Credits)
		}
		if plan.Price().StringFixed(2) != testCase.price {
			test.Fatalf(errorMismatchMessage, testCase.price, plan.Price().StringFixed(2))
		}
		if plan.PricePerCredit().String() != testCase.pricePerCredit {
			test.Fatalf(errorMismatchMessage, testCase.pricePerCredit, plan.PricePerCredit().String())
		}
	}
	if _, err := catalog.Lookup("enterprise"); !errors.Is(err, ErrUnknownPlan) {
		test.Fatalf(errorMismatchMessage, ErrUnknownPlan, err)
	}
	if len(catalog.Plans()) != 3 {
		test.Fatalf(errorMismatchMessage, 3, len(catalog.Plans()))
	}
}

func TestNewCatalogRejectsInvalidPlans(test *testing.T) {
	test.Parallel()
	testCases := map[string][]Plan{
		"empty":     nil,
		"duplicate": {{ID: "a", PriceCents: 1, Credits: 1}, {ID: "A", PriceCents: 1, Credits: 1}},
		"no price":  {{ID: "a", Credits: 1}},
		"no id":     {{PriceCents: 1, Credits: 1}},
	}
	for name, plans := range testCases {
		if _, err := NewCatalog(plans, nil); err == nil {
			test.Fatalf("%s: expected error", name)
		}
	}
}

func TestCreateCheckoutSessionCarriesMetadata(test *testing.T) {
	test.Parallel()
	var captured *stripe.CheckoutSessionParams
	creator, err := NewCheckoutCreator(mustCatalog(test), CheckoutConfig{AppURL: testAppURL}, func(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		captured = params
		return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
	})
	if err != nil {
		test.Fatalf("creator: %v", err)
	}
	identity, err := ledger.NewIdentity(testIdentity)
	if err != nil {
		test.Fatalf("identity: %v", err)
	}

	checkout, err := creator.CreateCheckoutSession(context.Background(), PlanPro, identity)
	if err != nil {
		test.Fatalf("checkout: %v", err)
	}
	if checkout.SessionID != "cs_test_1" || checkout.URL == "" {
		test.Fatalf("unexpected session: %+v", checkout)
	}
	if captured.Metadata[MetadataCredits] != "75" || captured.Metadata[MetadataPlan] != PlanPro || captured.Metadata[MetadataIdentity] != testIdentity {
		test.Fatalf("unexpected metadata: %v", captured.Metadata)
	}
	if *captured.SuccessURL != "https://app.example.com/payment/success?session_id={CHECKOUT_SESSION_ID}" {
		test.Fatalf("unexpected success url %s", *captured.SuccessURL)
	}
	if *captured.LineItems[0].PriceData.UnitAmount != 1500 || *captured.ClientReferenceID != testIdentity {
		test.Fatalf("unexpected line item")
	}
	if creator.Environment() != EnvironmentTest {
		test.Fatalf(errorMismatchMessage, EnvironmentTest, creator.Environment())
	}

	if _, err := creator.CreateCheckoutSession(context.Background(), "gold", identity); !errors.Is(err, ErrUnknownPlan) {
		test.Fatalf(errorMismatchMessage, ErrUnknownPlan, err)
	}
}

func TestNewCheckoutCreatorValidatesKeys(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		config CheckoutConfig
	}{
		{name: "live key in test", config: CheckoutConfig{SecretKey: "sk_live_x", AppURL: testAppURL}},
		{name: "test key in live", config: CheckoutConfig{SecretKey: "sk_test_x", Environment: "live", AppURL: testAppURL}},
		{name: "unknown environment", config: CheckoutConfig{SecretKey: "sk_test_x", Environment: "staging", AppURL: testAppURL}},
		{name: "missing app url", config: CheckoutConfig{SecretKey: "sk_test_x"}},
	}
	for _, testCase := range testCases {
		if _, err := NewCheckoutCreator(mustCatalog(test), testCase.config, nil); err == nil {
			test.Fatalf("%s: expected error", testCase.name)
		}
	}
}
