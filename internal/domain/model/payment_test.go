//go:build !integration

package model

import (
	"testing"
	"time"
)

func TestStatusForResultCode(t *testing.T) {
	cases := []struct {
		code int
		want PaymentStatus
	}{
		{0, PaymentStatusSuccess},
		{1032, PaymentStatusCancelled},
		{1, PaymentStatusFailed},
		{2001, PaymentStatusFailed},
		{1037, PaymentStatusFailed},
	}
	for _, c := range cases {
		if got := StatusForResultCode(c.code); got != c.want {
			t.Errorf("code %d: expected %s, got %s", c.code, c.want, got)
		}
	}
}

func TestPaymentStatus_IsTerminal(t *testing.T) {
	if PaymentStatusPending.IsTerminal() {
		t.Error("pending must not be terminal")
	}
	for _, s := range []PaymentStatus{PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestNewTerminalRecord(t *testing.T) {
	now := time.Now()

	t.Run("success carries settlement fields only", func(t *testing.T) {
		rec := NewTerminalRecord(Outcome{
			CheckoutRequestID: "ws_1",
			ResultCode:        0,
			ResultDesc:        "The service request is processed successfully.",
			Amount:            11,
			Receipt:           "ABC123",
			PayerPhone:        "254700000000",
			SettledAt:         "20240101120000",
		}, now)

		if rec.Status != PaymentStatusSuccess {
			t.Fatalf("expected success, got %s", rec.Status)
		}
		if rec.Amount != 11 || rec.Receipt != "ABC123" || rec.PayerPhone != "254700000000" || rec.SettledAt != "20240101120000" {
			t.Errorf("success fields not populated: %+v", rec)
		}
		if rec.Message != "" {
			t.Errorf("expected no message on success, got %q", rec.Message)
		}
	})

	t.Run("cancel carries message only", func(t *testing.T) {
		rec := NewTerminalRecord(Outcome{
			CheckoutRequestID: "ws_2",
			ResultCode:        1032,
			ResultDesc:        "Request cancelled by user",
			Amount:            5,
		}, now)

		if rec.Status != PaymentStatusCancelled {
			t.Fatalf("expected cancelled, got %s", rec.Status)
		}
		if rec.Message != "Request cancelled by user" {
			t.Errorf("unexpected message %q", rec.Message)
		}
		if rec.Amount != 0 {
			t.Errorf("expected no amount on cancel, got %v", rec.Amount)
		}
		if rec.ResultCode == nil || *rec.ResultCode != 1032 {
			t.Errorf("expected result code 1032, got %v", rec.ResultCode)
		}
	})
}

func TestMergeFinal(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pending := NewPendingRecord("ws_1", "mr_1", created)
	final := NewTerminalRecord(Outcome{CheckoutRequestID: "ws_1", ResultCode: 1, ResultDesc: "insufficient"}, created.Add(time.Minute))

	merged := pending.MergeFinal(final)
	if merged.MerchantRequestID != "mr_1" {
		t.Errorf("expected merchant id to be kept, got %q", merged.MerchantRequestID)
	}
	if !merged.CreatedAt.Equal(created) {
		t.Errorf("expected creation time to be kept, got %v", merged.CreatedAt)
	}
	if merged.Status != PaymentStatusFailed {
		t.Errorf("expected failed, got %s", merged.Status)
	}
}

func TestAcceptsFinal(t *testing.T) {
	now := time.Now()
	queried := NewTerminalRecord(Outcome{CheckoutRequestID: "ws_1", ResultCode: 0}, now)
	settled := NewTerminalRecord(Outcome{CheckoutRequestID: "ws_1", ResultCode: 0, Amount: 11, Receipt: "ABC123"}, now)
	failed := NewTerminalRecord(Outcome{CheckoutRequestID: "ws_1", ResultCode: 1}, now)

	cases := []struct {
		name string
		cur  *PaymentRecord
		next *PaymentRecord
		want bool
	}{
		{"pending takes failure", NewPendingRecord("ws_1", "", now), failed, true},
		{"receipt-less success takes settled success", queried, settled, true},
		{"receipt-less success rejects another receipt-less success", queried, queried, false},
		{"receipt-less success rejects failure", queried, failed, false},
		{"settled success rejects settled success", settled, settled, false},
		{"failure rejects success", failed, settled, false},
	}
	for _, c := range cases {
		if got := c.cur.AcceptsFinal(c.next); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestParseResultCode(t *testing.T) {
	cases := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{`0`, 0, true},
		{`1032`, 1032, true},
		{`"1032"`, 1032, true},
		{`" 0 "`, 0, true},
		{``, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, false},
		{`1.5`, 0, false},
		{`{}`, 0, false},
	}
	for _, c := range cases {
		got, ok := ParseResultCode([]byte(c.raw))
		if ok != c.wantOK || got != c.want {
			t.Errorf("ParseResultCode(%q) = (%d, %v), want (%d, %v)", c.raw, got, ok, c.want, c.wantOK)
		}
	}
}
