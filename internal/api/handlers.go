package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stratos-brokerage/paycore/pkg/ledger"
	"github.com/stratos-brokerage/paycore/pkg/payment"
)

func (server *Server) handleInitialize(writer http.ResponseWriter, request *http.Request) {
	var body initializeRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		writeErrorCode(writer, http.StatusBadRequest, "malformed_json")
		return
	}
	currency, err := payment.NewCurrency(body.Currency)
	if err != nil {
		writeError(writer, err)
		return
	}
	method, err := payment.NewMethod(body.Method)
	if err != nil {
		writeError(writer, err)
		return
	}
	metadata, err := payment.NewMetadataJSON(string(body.Metadata))
	if err != nil {
		writeError(writer, err)
		return
	}
	record, err := server.payments.InitializePayment(request.Context(), payment.InitializeCommand{
		UserID:      body.UserID,
		AmountMinor: body.AmountMinor,
		Currency:    currency,
		Method:      method,
		Metadata:    metadata,
		TraceID:     traceID(request),
	})
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusCreated, toPaymentResponse(record))
}

func (server *Server) handleAuthorize(writer http.ResponseWriter, request *http.Request) {
	record, err := server.payments.AuthorizePayment(request.Context(), chi.URLParam(request, "paymentID"), traceID(request))
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, toPaymentResponse(record))
}

func (server *Server) handleCapture(writer http.ResponseWriter, request *http.Request) {
	var body amountRequest
	if err := decodeOptionalBody(request, &body); err != nil {
		writeErrorCode(writer, http.StatusBadRequest, "malformed_json")
		return
	}
	record, err := server.payments.CapturePayment(request.Context(), chi.URLParam(request, "paymentID"), body.AmountMinor, traceID(request))
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, toPaymentResponse(record))
}

func (server *Server) handleRefund(writer http.ResponseWriter, request *http.Request) {
	var body amountRequest
	if err := decodeOptionalBody(request, &body); err != nil {
		writeErrorCode(writer, http.StatusBadRequest, "malformed_json")
		return
	}
	record, err := server.payments.RefundPayment(request.Context(), chi.URLParam(request, "paymentID"), body.AmountMinor, traceID(request))
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, toPaymentResponse(record))
}

func (server *Server) handleGetPayment(writer http.ResponseWriter, request *http.Request) {
	record, err := server.payments.GetPayment(request.Context(), chi.URLParam(request, "paymentID"))
	if err != nil {
		writeError(writer, err)
		return
	}
	writeJSON(writer, http.StatusOK, toPaymentResponse(record))
}

func (server *Server) handleListEvents(writer http.ResponseWriter, request *http.Request) {
	events, err := server.payments.ListEvents(request.Context(), chi.URLParam(request, "paymentID"))
	if err != nil {
		writeError(writer, err)
		return
	}
	responses := make([]paymentEventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, toEventResponse(event))
	}
	writeJSON(writer, http.StatusOK, responses)
}

func (server *Server) handleGetBalance(writer http.ResponseWriter, request *http.Request) {
	entityType := chi.URLParam(request, "entityType")
	entityID := chi.URLParam(request, "entityID")
	currency := request.URL.Query().Get("currency")

	if currency != "" {
		key, err := ledger.NewBalanceKey(entityType, entityID, currency)
		if err != nil {
			writeError(writer, err)
			return
		}
		balance, err := server.ledger.Balance(request.Context(), key)
		if err != nil {
			writeError(writer, err)
			return
		}
		writeJSON(writer, http.StatusOK, toBalanceResponse(balance))
		return
	}

	balances, err := server.ledger.Balances(request.Context())
	if err != nil {
		writeError(writer, err)
		return
	}
	responses := make([]balanceResponse, 0)
	for _, balance := range balances {
		if balance.EntityType == entityType && balance.EntityID == entityID {
			responses = append(responses, toBalanceResponse(balance))
		}
	}
	writeJSON(writer, http.StatusOK, responses)
}

func (server *Server) handleHealthz(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeOptionalBody(request *http.Request, target *amountRequest) error {
	if request.Body == nil || request.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(request.Body).Decode(target)
}

func traceID(request *http.Request) string {
	return request.Header.Get("X-Trace-Id")
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(body)
}

func writeErrorCode(writer http.ResponseWriter, status int, code string) {
	writeJSON(writer, status, errorResponse{Error: code})
}

func writeError(writer http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, payment.ErrPaymentNotFound), errors.Is(err, ledger.ErrBalanceNotFound):
		writeJSON(writer, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrVersionConflict):
		writeJSON(writer, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, payment.ErrCaptureExceedsAuth),
		errors.Is(err, payment.ErrRefundExceedsCapture):
		writeJSON(writer, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrProviderDeclined):
		writeJSON(writer, http.StatusPaymentRequired, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrProviderTimeout):
		writeJSON(writer, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case errors.Is(err, payment.ErrInvalidUserID),
		errors.Is(err, payment.ErrInvalidPaymentID),
		errors.Is(err, payment.ErrInvalidCurrency),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidIdempotencyKey),
		errors.Is(err, payment.ErrInvalidMetadataJSON),
		errors.Is(err, payment.ErrUnsupportedCurrency),
		errors.Is(err, payment.ErrUnsupportedMethod),
		errors.Is(err, ledger.ErrInvalidEntity),
		errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidDirection):
		writeJSON(writer, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(writer, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
