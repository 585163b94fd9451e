package events

import (
	"time"

	"github.com/google/uuid"

	"mpesa-stk-mediator/internal/domain/model"
)

const TypePaymentFinalized = "payment.finalized"

// PaymentFinalized is published once per correlation id, when its record turns terminal.
type PaymentFinalized struct {
	EventID           string              `json:"eventId"`
	EventType         string              `json:"eventType"`
	CheckoutRequestID string              `json:"checkoutRequestId"`
	MerchantRequestID string              `json:"merchantRequestId,omitempty"`
	Status            model.PaymentStatus `json:"status"`
	ResultCode        *int                `json:"resultCode,omitempty"`
	Amount            float64             `json:"amount,omitempty"`
	Receipt           string              `json:"receipt,omitempty"`
	PayerPhone        string              `json:"payerPhone,omitempty"`
	SettledAt         string              `json:"settledAt,omitempty"`
	Message           string              `json:"message,omitempty"`
	OccurredAt        time.Time           `json:"occurredAt"`
}

func NewPaymentFinalized(rec *model.PaymentRecord) PaymentFinalized {
	return PaymentFinalized{
		EventID:           uuid.NewString(),
		EventType:         TypePaymentFinalized,
		CheckoutRequestID: rec.CheckoutRequestID,
		MerchantRequestID: rec.MerchantRequestID,
		Status:            rec.Status,
		ResultCode:        rec.ResultCode,
		Amount:            rec.Amount,
		Receipt:           rec.Receipt,
		PayerPhone:        rec.PayerPhone,
		SettledAt:         rec.SettledAt,
		Message:           rec.Message,
		OccurredAt:        rec.UpdatedAt,
	}
}
