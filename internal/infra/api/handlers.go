package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/infra/logging"
	"mpesa-stk-mediator/internal/usecase"
)

const (
	maxInitiateBody = 64 << 10
	maxCallbackBody = 1 << 20
)

type initiateRequest struct {
	PayerPhone  string   `json:"payerPhone"`
	Amount      *float64 `json:"amount"`
	Description string   `json:"description,omitempty"`
}

type errorResponse struct {
	ErrorMessage string `json:"errorMessage"`
}

// callbackAck is what the gateway expects back regardless of outcome; anything else makes
// it retry.
var callbackAck = []byte(`{"ResultCode":0,"ResultDesc":"Accepted"}`)

type paymentStatusResponse struct {
	CheckoutRequestID string  `json:"checkoutRequestId,omitempty"`
	MerchantRequestID string  `json:"merchantRequestId,omitempty"`
	Status            string  `json:"status"`
	Amount            float64 `json:"amount,omitempty"`
	Receipt           string  `json:"receipt,omitempty"`
	PayerPhone        string  `json:"payerPhone,omitempty"`
	SettledAt         string  `json:"settledAt,omitempty"`
	Message           string  `json:"message,omitempty"`
	ResultCode        *int    `json:"resultCode,omitempty"`
}

func toStatusResponse(rec *model.PaymentRecord) paymentStatusResponse {
	return paymentStatusResponse{
		CheckoutRequestID: rec.CheckoutRequestID,
		MerchantRequestID: rec.MerchantRequestID,
		Status:            string(rec.Status),
		Amount:            rec.Amount,
		Receipt:           rec.Receipt,
		PayerPhone:        rec.PayerPhone,
		SettledAt:         rec.SettledAt,
		Message:           rec.Message,
		ResultCode:        rec.ResultCode,
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInitiateBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.payUC.Initiate(r.Context(), usecase.InitiateRequest{
		PayerPhone:  req.PayerPhone,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		var ue *domain.UpstreamError
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.As(err, &ue):
			writeError(w, http.StatusInternalServerError, ue.ClientMessage())
		default:
			writeError(w, http.StatusInternalServerError, domain.FallbackUpstreamMessage)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Ack.Raw)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("failed to read stk callback body")
	} else {
		// errors are logged and counted inside the use case
		_ = s.cbUC.Reconcile(r.Context(), body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(callbackAck)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, err := s.payUC.Status(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(rec))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{ErrorMessage: msg})
}
