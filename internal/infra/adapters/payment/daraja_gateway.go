// File: internal/infra/adapters/payment/daraja_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mpesa-stk-mediator/internal/domain"
	"mpesa-stk-mediator/internal/domain/model"
	"mpesa-stk-mediator/internal/domain/ports/adapter"
	"mpesa-stk-mediator/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*DarajaGateway)(nil)

const (
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	maxBodyBytes = 1 << 20

	// returned by the query API while the payer has not answered the prompt yet
	errCodeStillProcessing = "500.001.1001"
)

// DarajaGateway implements adapter.PaymentGateway against the Safaricom Daraja REST API.
type DarajaGateway struct {
	baseURL string
	client  *http.Client
}

func NewDarajaGateway(baseURL string, client *http.Client) *DarajaGateway {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &DarajaGateway{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (g *DarajaGateway) Name() string { return "daraja" }

// Submit posts the STK push. Any 2xx answer is an acknowledgment; its body is kept raw.
func (g *DarajaGateway) Submit(ctx context.Context, token adapter.AccessToken, env adapter.Envelope) (ack adapter.Ack, err error) {
	defer metrics.ObserveGateway("submit", time.Now(), &err)

	status, body, err := g.post(ctx, token, stkPushPath, env)
	if err != nil {
		return ack, &domain.UpstreamError{Kind: domain.ErrUpstreamSubmission, Err: err}
	}
	if status < 200 || status >= 300 {
		return ack, &domain.UpstreamError{
			Kind:    domain.ErrUpstreamSubmission,
			Message: gatewayMessage(body),
			Err:     fmt.Errorf("stk push http %d", status),
		}
	}

	var out struct {
		MerchantRequestID string `json:"MerchantRequestID"`
		CheckoutRequestID string `json:"CheckoutRequestID"`
		ResponseCode      string `json:"ResponseCode"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ack, &domain.UpstreamError{Kind: domain.ErrUpstreamSubmission, Err: fmt.Errorf("decode stk push response: %w", err)}
	}
	return adapter.Ack{
		MerchantRequestID: out.MerchantRequestID,
		CheckoutRequestID: out.CheckoutRequestID,
		ResponseCode:      out.ResponseCode,
		Raw:               body,
	}, nil
}

// Query calls the STK push query API. A "still processing" answer is not an error.
func (g *DarajaGateway) Query(ctx context.Context, token adapter.AccessToken, env adapter.Envelope, checkoutRequestID string) (res adapter.QueryResult, err error) {
	defer metrics.ObserveGateway("query", time.Now(), &err)

	payload := map[string]string{
		"BusinessShortCode": env.BusinessShortCode,
		"Password":          env.Password,
		"Timestamp":         env.Timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}
	status, body, err := g.post(ctx, token, stkQueryPath, payload)
	if err != nil {
		return res, fmt.Errorf("stk query: %w", err)
	}

	var out struct {
		MerchantRequestID string          `json:"MerchantRequestID"`
		CheckoutRequestID string          `json:"CheckoutRequestID"`
		ResultCode        json.RawMessage `json:"ResultCode"`
		ResultDesc        string          `json:"ResultDesc"`
		ErrorCode         string          `json:"errorCode"`
		ErrorMessage      string          `json:"errorMessage"`
	}
	_ = json.Unmarshal(body, &out)

	if status < 200 || status >= 300 {
		if out.ErrorCode == errCodeStillProcessing {
			return adapter.QueryResult{Final: false}, nil
		}
		return res, fmt.Errorf("stk query http %d: %s", status, gatewayMessage(body))
	}
	code, ok := model.ParseResultCode(out.ResultCode)
	if !ok {
		return adapter.QueryResult{Final: false}, nil
	}
	if out.CheckoutRequestID == "" {
		out.CheckoutRequestID = checkoutRequestID
	}
	return adapter.QueryResult{
		Final: true,
		Outcome: model.Outcome{
			CheckoutRequestID: out.CheckoutRequestID,
			MerchantRequestID: out.MerchantRequestID,
			ResultCode:        code,
			ResultDesc:        out.ResultDesc,
		},
	}, nil
}

func (g *DarajaGateway) post(ctx context.Context, token adapter.AccessToken, path string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// gatewayMessage pulls the human readable reason out of a Daraja error body.
func gatewayMessage(body []byte) string {
	var out struct {
		ErrorMessage        string `json:"errorMessage"`
		ResponseDescription string `json:"ResponseDescription"`
		ErrorDescription    string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	switch {
	case out.ErrorMessage != "":
		return out.ErrorMessage
	case out.ResponseDescription != "":
		return out.ResponseDescription
	default:
		return out.ErrorDescription
	}
}
