package payment

import (
	"context"
	"fmt"
	"strings"
)

// ProviderStatus is the provider's view of a payment.
type ProviderStatus string

const (
	ProviderStatusInitialized ProviderStatus = "initialized"
	ProviderStatusAuthorized  ProviderStatus = "authorized"
	ProviderStatusCaptured    ProviderStatus = "captured"
	ProviderStatusRefunded    ProviderStatus = "refunded"
	ProviderStatusFailed      ProviderStatus = "failed"
)

// ProviderCommand carries one settlement instruction to a provider.
type ProviderCommand struct {
	PaymentID         string
	ProviderPaymentID string
	AmountMinor       int64
	Currency          Currency
	Method            Method
	Metadata          MetadataJSON
}

// ProviderResult is the provider's answer to a command.
type ProviderResult struct {
	ProviderPaymentID string
	Status            ProviderStatus
}

// Provider abstracts an external settlement system. Implementations must
// declare supported currency/method pairs; the service rejects commands
// for unsupported pairs before any provider call.
type Provider interface {
	Name() string
	Supports(currency Currency, method Method) bool
	Initialize(ctx context.Context, command ProviderCommand) (ProviderResult, error)
	Authorize(ctx context.Context, command ProviderCommand) (ProviderResult, error)
	Capture(ctx context.Context, command ProviderCommand) (ProviderResult, error)
	Refund(ctx context.Context, command ProviderCommand) (ProviderResult, error)
	Get(ctx context.Context, command ProviderCommand) (ProviderResult, error)
}

// ProviderRegistry selects providers by name with a default and optional
// per-environment overrides.
type ProviderRegistry struct {
	providers   map[string]Provider
	defaultName string
	overrides   map[string]string
}

// NewProviderRegistry wires a registry around a default provider.
func NewProviderRegistry(defaultProvider Provider) (*ProviderRegistry, error) {
	if defaultProvider == nil {
		return nil, fmt.Errorf("%w: default provider is nil", ErrInvalidServiceConfig)
	}
	registry := &ProviderRegistry{
		providers:   map[string]Provider{defaultProvider.Name(): defaultProvider},
		defaultName: defaultProvider.Name(),
		overrides:   map[string]string{},
	}
	return registry, nil
}

// Register adds a provider under its own name.
func (registry *ProviderRegistry) Register(provider Provider) {
	registry.providers[provider.Name()] = provider
}

// Override routes an environment to a named provider.
func (registry *ProviderRegistry) Override(environment string, providerName string) {
	registry.overrides[strings.ToLower(strings.TrimSpace(environment))] = providerName
}

// Select resolves the provider for an environment, falling back to the default.
func (registry *ProviderRegistry) Select(environment string) (Provider, error) {
	name := registry.defaultName
	if overridden, ok := registry.overrides[strings.ToLower(strings.TrimSpace(environment))]; ok {
		name = overridden
	}
	provider, ok := registry.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, nil
}

// Get resolves a provider by exact name, used when replaying commands
// against the provider that originally handled the payment.
func (registry *ProviderRegistry) Get(name string) (Provider, error) {
	provider, ok := registry.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return provider, nil
}
