// Package testprovider is a deterministic settlement provider. Every output
// is a pure function of the command inputs, so tests reproduce failure
// paths without network calls.
package testprovider

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/stratos-brokerage/paycore/pkg/payment"
)

// Poison amounts deterministically trigger failure paths. A command whose
// amount modulo 100000 hits one of these values fails the matching call.
const (
	PoisonInitializeMinor int64 = 99901
	PoisonAuthorizeMinor  int64 = 99902
	PoisonCaptureMinor    int64 = 99903
	PoisonRefundMinor     int64 = 99904
	PoisonHangMinor       int64 = 99905

	poisonModulus = 100000
)

// ErrPoisoned is the deterministic decline returned for poison amounts.
var ErrPoisoned = errors.New("test provider declined poison amount")

// Provider implements payment.Provider.
type Provider struct {
	name       string
	currencies map[string]bool
	methods    map[string]bool
}

// New returns a provider supporting the given currencies and methods.
// With no arguments it supports USD/EUR/GBP over card and bank_transfer.
func New(currencies []string, methods []string) *Provider {
	if len(currencies) == 0 {
		currencies = []string{"USD", "EUR", "GBP"}
	}
	if len(methods) == 0 {
		methods = []string{"card", "bank_transfer"}
	}
	provider := &Provider{
		name:       "testpay",
		currencies: make(map[string]bool, len(currencies)),
		methods:    make(map[string]bool, len(methods)),
	}
	for _, currency := range currencies {
		provider.currencies[currency] = true
	}
	for _, method := range methods {
		provider.methods[method] = true
	}
	return provider
}

// Name returns the provider identifier.
func (provider *Provider) Name() string {
	return provider.name
}

// Supports reports whether the currency/method pair is accepted.
func (provider *Provider) Supports(currency payment.Currency, method payment.Method) bool {
	return provider.currencies[currency.String()] && provider.methods[method.String()]
}

func (provider *Provider) Initialize(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	if err := provider.checkPoison(ctx, command, PoisonInitializeMinor); err != nil {
		return payment.ProviderResult{}, err
	}
	return payment.ProviderResult{
		ProviderPaymentID: providerPaymentID(command),
		Status:            payment.ProviderStatusInitialized,
	}, nil
}

func (provider *Provider) Authorize(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	if err := provider.checkPoison(ctx, command, PoisonAuthorizeMinor); err != nil {
		return payment.ProviderResult{}, err
	}
	return payment.ProviderResult{
		ProviderPaymentID: resolvedPaymentID(command),
		Status:            payment.ProviderStatusAuthorized,
	}, nil
}

func (provider *Provider) Capture(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	if err := provider.checkPoison(ctx, command, PoisonCaptureMinor); err != nil {
		return payment.ProviderResult{}, err
	}
	return payment.ProviderResult{
		ProviderPaymentID: resolvedPaymentID(command),
		Status:            payment.ProviderStatusCaptured,
	}, nil
}

func (provider *Provider) Refund(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	if err := provider.checkPoison(ctx, command, PoisonRefundMinor); err != nil {
		return payment.ProviderResult{}, err
	}
	return payment.ProviderResult{
		ProviderPaymentID: resolvedPaymentID(command),
		Status:            payment.ProviderStatusRefunded,
	}, nil
}

func (provider *Provider) Get(ctx context.Context, command payment.ProviderCommand) (payment.ProviderResult, error) {
	return payment.ProviderResult{
		ProviderPaymentID: resolvedPaymentID(command),
		Status:            payment.ProviderStatusInitialized,
	}, nil
}

// checkPoison fails deterministically on the poison value and blocks until
// context cancellation on the hang value, which is how tests exercise the
// indeterminate-timeout path.
func (provider *Provider) checkPoison(ctx context.Context, command payment.ProviderCommand, poison int64) error {
	remainder := command.AmountMinor % poisonModulus
	if remainder == PoisonHangMinor {
		<-ctx.Done()
		return ctx.Err()
	}
	if remainder == poison {
		return fmt.Errorf("%w: %d", ErrPoisoned, command.AmountMinor)
	}
	return nil
}

func resolvedPaymentID(command payment.ProviderCommand) string {
	if command.ProviderPaymentID != "" {
		return command.ProviderPaymentID
	}
	return providerPaymentID(command)
}

func providerPaymentID(command payment.ProviderCommand) string {
	digest := fnv.New64a()
	fmt.Fprintf(digest, "%d|%s|%s", command.AmountMinor, command.Currency, command.Method)
	return fmt.Sprintf("testpay_%016x", digest.Sum64())
}
