package testprovider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stratos-brokerage/paycore/internal/provider/testprovider"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

func mustCurrency(test *testing.T, raw string) payment.Currency {
	test.Helper()
	currency, err := payment.NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency %q: %v", raw, err)
	}
	return currency
}

func mustMethod(test *testing.T, raw string) payment.Method {
	test.Helper()
	method, err := payment.NewMethod(raw)
	if err != nil {
		test.Fatalf("method %q: %v", raw, err)
	}
	return method
}

func TestSupportsDefaults(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)

	if !provider.Supports(mustCurrency(test, "USD"), mustMethod(test, "card")) {
		test.Fatal("USD/card must be supported by default")
	}
	if !provider.Supports(mustCurrency(test, "EUR"), mustMethod(test, "bank_transfer")) {
		test.Fatal("EUR/bank_transfer must be supported by default")
	}
	if provider.Supports(mustCurrency(test, "JPY"), mustMethod(test, "card")) {
		test.Fatal("JPY must not be supported by default")
	}
	if provider.Supports(mustCurrency(test, "USD"), mustMethod(test, "wallet")) {
		test.Fatal("wallet must not be supported by default")
	}
}

func TestInitializeIsDeterministic(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)
	command := payment.ProviderCommand{
		AmountMinor: 10000,
		Currency:    mustCurrency(test, "USD"),
		Method:      mustMethod(test, "card"),
	}

	first, err := provider.Initialize(context.Background(), command)
	if err != nil {
		test.Fatalf("initialize: %v", err)
	}
	second, err := provider.Initialize(context.Background(), command)
	if err != nil {
		test.Fatalf("initialize again: %v", err)
	}
	if first.ProviderPaymentID != second.ProviderPaymentID {
		test.Fatalf("ids differ: %s vs %s", first.ProviderPaymentID, second.ProviderPaymentID)
	}
	if first.Status != payment.ProviderStatusInitialized {
		test.Fatalf("status = %s", first.Status)
	}
}

func TestPoisonAmountsDeclineMatchingCall(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)

	cases := []struct {
		name   string
		amount int64
		call   func(context.Context, payment.ProviderCommand) (payment.ProviderResult, error)
	}{
		{"initialize", testprovider.PoisonInitializeMinor, provider.Initialize},
		{"authorize", testprovider.PoisonAuthorizeMinor, provider.Authorize},
		{"capture", testprovider.PoisonCaptureMinor, provider.Capture},
		{"refund", testprovider.PoisonRefundMinor, provider.Refund},
	}
	for _, testCase := range cases {
		command := payment.ProviderCommand{
			AmountMinor: testCase.amount,
			Currency:    mustCurrency(test, "USD"),
			Method:      mustMethod(test, "card"),
		}
		if _, err := testCase.call(context.Background(), command); !errors.Is(err, testprovider.ErrPoisoned) {
			test.Fatalf("%s: err = %v, want %v", testCase.name, err, testprovider.ErrPoisoned)
		}
	}
}

func TestPoisonAmountsApplyModulo(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)

	command := payment.ProviderCommand{
		AmountMinor: 100000 + testprovider.PoisonAuthorizeMinor,
		Currency:    mustCurrency(test, "USD"),
		Method:      mustMethod(test, "card"),
	}
	if _, err := provider.Authorize(context.Background(), command); !errors.Is(err, testprovider.ErrPoisoned) {
		test.Fatalf("err = %v, want %v", err, testprovider.ErrPoisoned)
	}
}

func TestPoisonAmountOnlyAffectsMatchingCall(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)

	command := payment.ProviderCommand{
		AmountMinor: testprovider.PoisonAuthorizeMinor,
		Currency:    mustCurrency(test, "USD"),
		Method:      mustMethod(test, "card"),
	}
	if _, err := provider.Initialize(context.Background(), command); err != nil {
		test.Fatalf("initialize with authorize poison: %v", err)
	}
	if _, err := provider.Capture(context.Background(), command); err != nil {
		test.Fatalf("capture with authorize poison: %v", err)
	}
}

func TestHangAmountBlocksUntilContextDone(test *testing.T) {
	test.Parallel()
	provider := testprovider.New(nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err := provider.Authorize(ctx, payment.ProviderCommand{
		AmountMinor: testprovider.PoisonHangMinor,
		Currency:    mustCurrency(test, "USD"),
		Method:      mustMethod(test, "card"),
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("err = %v, want %v", err, context.DeadlineExceeded)
	}
	if time.Since(started) < 20*time.Millisecond {
		test.Fatal("call returned before the context expired")
	}
}
