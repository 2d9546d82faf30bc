package api

import (
	"encoding/json"

	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

type initializeRequest struct {
	UserID      string          `json:"user_id"`
	AmountMinor int64           `json:"amount_minor"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type amountRequest struct {
	AmountMinor int64 `json:"amount_minor,omitempty"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	UserID            string `json:"user_id"`
	AmountMinor       int64  `json:"amount_minor"`
	Currency          string `json:"currency"`
	Status            string `json:"status"`
	Method            string `json:"method"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	AuthorizedMinor   int64  `json:"authorized_minor"`
	CapturedMinor     int64  `json:"captured_minor"`
	RefundedMinor     int64  `json:"refunded_minor"`
	Version           int64  `json:"version"`
	CreatedUnixUTC    int64  `json:"created_unix_utc"`
	UpdatedUnixUTC    int64  `json:"updated_unix_utc"`
}

type paymentEventResponse struct {
	EventID        string          `json:"event_id"`
	PaymentID      string          `json:"payment_id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type balanceResponse struct {
	EntityType        string `json:"entity_type"`
	EntityID          string `json:"entity_id"`
	Currency          string `json:"currency"`
	BalanceMinor      int64  `json:"balance_minor"`
	LastTransactionID string `json:"last_transaction_id,omitempty"`
	UpdatedUnixUTC    int64  `json:"updated_unix_utc"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toPaymentResponse(record *payment.Payment) paymentResponse {
	return paymentResponse{
		ID:                record.ID,
		UserID:            record.UserID,
		AmountMinor:       record.AmountMinor,
		Currency:          record.Currency.String(),
		Status:            record.Status.String(),
		Method:            record.Method.String(),
		Provider:          record.Provider,
		ProviderPaymentID: record.ProviderPaymentID,
		AuthorizedMinor:   record.AuthorizedMinor,
		CapturedMinor:     record.CapturedMinor,
		RefundedMinor:     record.RefundedMinor,
		Version:           record.Version,
		CreatedUnixUTC:    record.CreatedUnixUTC,
		UpdatedUnixUTC:    record.UpdatedUnixUTC,
	}
}

func toEventResponse(event payment.PaymentEvent) paymentEventResponse {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return paymentEventResponse{
		EventID:        event.EventID,
		PaymentID:      event.PaymentID,
		Type:           event.Type.String(),
		Payload:        payload,
		CreatedUnixUTC: event.CreatedUnixUTC,
	}
}

func toBalanceResponse(balance ledger.Balance) balanceResponse {
	return balanceResponse{
		EntityType:        balance.EntityType,
		EntityID:          balance.EntityID,
		Currency:          balance.Currency,
		BalanceMinor:      balance.BalanceMinor,
		LastTransactionID: balance.LastTransactionID,
		UpdatedUnixUTC:    balance.UpdatedUnixUTC,
	}
}
