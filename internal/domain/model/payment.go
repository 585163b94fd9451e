package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // STK prompt sent; awaiting callback
	PaymentStatusSuccess   PaymentStatus = "success"   // payer authorized, gateway settled
	PaymentStatusFailed    PaymentStatus = "failed"    // any non-zero result except cancel
	PaymentStatusCancelled PaymentStatus = "cancelled" // payer dismissed the prompt
)

// Gateway result codes with a meaning of their own.
const (
	ResultCodeSuccess       = 0
	ResultCodeUserCancelled = 1032
)

// IsTerminal reports whether no further transition is allowed from s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// StatusForResultCode maps a gateway callback result code to the terminal status.
func StatusForResultCode(code int) PaymentStatus {
	switch code {
	case ResultCodeSuccess:
		return PaymentStatusSuccess
	case ResultCodeUserCancelled:
		return PaymentStatusCancelled
	default:
		return PaymentStatusFailed
	}
}

// PaymentRecord tracks one STK push attempt, keyed by the gateway's CheckoutRequestID.
type PaymentRecord struct {
	CheckoutRequestID string        `json:"checkoutRequestId"`
	MerchantRequestID string        `json:"merchantRequestId,omitempty"`
	Status            PaymentStatus `json:"status"`

	// success only
	Amount     float64 `json:"amount,omitempty"`
	Receipt    string  `json:"receipt,omitempty"`
	PayerPhone string  `json:"payerPhone,omitempty"`
	SettledAt  string  `json:"settledAt,omitempty"` // gateway format, e.g. 20191219102115

	// failed / cancelled only
	Message string `json:"message,omitempty"`

	ResultCode *int `json:"resultCode,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewPendingRecord builds the record registered when the gateway acknowledges a push.
func NewPendingRecord(checkoutRequestID, merchantRequestID string, now time.Time) *PaymentRecord {
	return &PaymentRecord{
		CheckoutRequestID: checkoutRequestID,
		MerchantRequestID: merchantRequestID,
		Status:            PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Outcome is the result reported by the gateway for one checkout request.
type Outcome struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string

	Amount     float64
	Receipt    string
	PayerPhone string
	SettledAt  string
}

// NewTerminalRecord builds the terminal record an outcome resolves to. Success fields are
// only carried for code 0 and the message only for failures.
func NewTerminalRecord(o Outcome, now time.Time) *PaymentRecord {
	code := o.ResultCode
	rec := &PaymentRecord{
		CheckoutRequestID: o.CheckoutRequestID,
		MerchantRequestID: o.MerchantRequestID,
		Status:            StatusForResultCode(code),
		ResultCode:        &code,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if rec.Status == PaymentStatusSuccess {
		rec.Amount = o.Amount
		rec.Receipt = o.Receipt
		rec.PayerPhone = o.PayerPhone
		rec.SettledAt = o.SettledAt
	} else {
		rec.Message = o.ResultDesc
	}
	return rec
}

// AcceptsFinal reports whether next may be written over p. A pending record takes any
// terminal outcome. A success learned from a status query has no settlement details, so
// a later success that carries a receipt fills them in without changing the status.
func (p *PaymentRecord) AcceptsFinal(next *PaymentRecord) bool {
	if !p.Status.IsTerminal() {
		return true
	}
	return p.Status == PaymentStatusSuccess && p.Receipt == "" &&
		next.Status == PaymentStatusSuccess && next.Receipt != ""
}

// MergeFinal applies a terminal record on top of an existing pending one, keeping the
// identity fields and creation time of the original.
func (p *PaymentRecord) MergeFinal(final *PaymentRecord) *PaymentRecord {
	out := *final
	out.CheckoutRequestID = p.CheckoutRequestID
	out.CreatedAt = p.CreatedAt
	if out.MerchantRequestID == "" {
		out.MerchantRequestID = p.MerchantRequestID
	}
	return &out
}

// ParseResultCode reads a gateway result code sent either as a JSON number or as a
// numeric string ("0", "1032"). ok is false when raw holds neither.
func ParseResultCode(raw []byte) (code int, ok bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, false
		}
		s = strings.TrimSpace(str)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
