package payment

import (
	"encoding/base64"
	"time"

	"mpesa-stk-mediator/internal/domain/ports/adapter"
)

var _ adapter.EnvelopeBuilder = (*DarajaEnvelopeBuilder)(nil)

// Daraja timestamps are East Africa Time, which has no DST.
var eat = time.FixedZone("EAT", 3*60*60)

const timestampLayout = "20060102150405"

// MerchantIdentity is the deployment-time part of every envelope.
type MerchantIdentity struct {
	ShortCode          string
	PassKey            string
	PartyB             string
	TransactionType    string
	CallbackURL        string
	AccountReference   string
	DefaultDescription string
}

type DarajaEnvelopeBuilder struct {
	id MerchantIdentity
}

func NewDarajaEnvelopeBuilder(id MerchantIdentity) *DarajaEnvelopeBuilder {
	if id.PartyB == "" {
		id.PartyB = id.ShortCode
	}
	return &DarajaEnvelopeBuilder{id: id}
}

// Build signs the request: Password = base64(shortcode + passkey + timestamp).
func (b *DarajaEnvelopeBuilder) Build(req adapter.PushRequest, at time.Time) adapter.Envelope {
	ts := at.In(eat).Format(timestampLayout)
	desc := req.Description
	if desc == "" {
		desc = b.id.DefaultDescription
	}
	return adapter.Envelope{
		BusinessShortCode: b.id.ShortCode,
		Password:          base64.StdEncoding.EncodeToString([]byte(b.id.ShortCode + b.id.PassKey + ts)),
		Timestamp:         ts,
		TransactionType:   b.id.TransactionType,
		Amount:            req.Amount,
		PartyA:            req.PayerPhone,
		PartyB:            b.id.PartyB,
		PhoneNumber:       req.PayerPhone,
		CallBackURL:       b.id.CallbackURL,
		AccountReference:  b.id.AccountReference,
		TransactionDesc:   desc,
	}
}
