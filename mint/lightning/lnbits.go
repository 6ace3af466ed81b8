package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// FeePercent is the fee reserved as a percentage of the payment amount for
// backends without a native fee estimate.
const FeePercent = 0.01

// LnbitsClient talks to an LNbits-style custodial wallet API. Auth is a
// static bearer key; the API reports invoice status as a boolean paid flag,
// so expiry is derived locally.
type LnbitsClient struct {
	rest restClient
	host string
}

func SetupLnbitsClient(creds Credentials) *LnbitsClient {
	return &LnbitsClient{
		rest: restClient{
			backend: "lnbits",
			client:  creds.httpClient(),
			headers: map[string]string{"X-Api-Key": creds.apiKey},
		},
		host: creds.endpoint,
	}
}

type lnbitsErrorResponse struct {
	Detail string `json:"detail"`
}

func (lb *LnbitsClient) ConnectionStatus(ctx context.Context) error {
	_, err := lb.rest.do(ctx, http.MethodGet, lb.host+"/api/v1/wallet", nil)
	var beErr *backendError
	if errors.As(err, &beErr) {
		return lb.rest.protocolErr("wallet", beErr)
	}
	return err
}

func (lb *LnbitsClient) CreateInvoice(ctx context.Context, amount uint64, memo string, expiry time.Duration) (Invoice, error) {
	if amount == 0 {
		return Invoice{}, ErrInvalidAmount
	}

	body := map[string]any{
		"out":    false,
		"amount": amount,
		"memo":   memo,
		"expiry": int64(expiry.Seconds()),
	}
	bodyBytes, err := lb.rest.do(ctx, http.MethodPost, lb.host+"/api/v1/payments", body)
	if err != nil {
		return Invoice{}, lb.wrapBackendErr("create invoice", err)
	}

	var response struct {
		PaymentHash    string `json:"payment_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Invoice{}, lb.rest.protocolErr("create invoice", err)
	}
	if response.PaymentRequest == "" || len(response.PaymentHash) != 64 {
		return Invoice{}, lb.rest.protocolErr("create invoice",
			fmt.Errorf("response missing payment request or hash"))
	}

	return Invoice{
		PaymentRequest: response.PaymentRequest,
		PaymentHash:    response.PaymentHash,
		Amount:         amount,
		Memo:           memo,
		CreatedAt:      time.Now(),
		Expiry:         expiry,
		Status:         Unpaid,
	}, nil
}

func (lb *LnbitsClient) InvoiceStatus(ctx context.Context, hash string) (InvoiceStatus, error) {
	bodyBytes, err := lb.rest.do(ctx, http.MethodGet, lb.host+"/api/v1/payments/"+hash, nil)
	if err != nil {
		return Unpaid, lb.wrapBackendErr("invoice status", err)
	}

	var response struct {
		Paid    bool `json:"paid"`
		Details struct {
			Time   int64 `json:"time"`
			Expiry int64 `json:"expiry"`
		} `json:"details"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Unpaid, lb.rest.protocolErr("invoice status", err)
	}

	if response.Paid {
		return Paid, nil
	}
	// no native expired signal, derive it from the creation time
	if response.Details.Expiry > 0 {
		expiresAt := time.Unix(response.Details.Time, 0).
			Add(time.Duration(response.Details.Expiry) * time.Second)
		if time.Now().After(expiresAt) {
			return Expired, nil
		}
	}
	return Unpaid, nil
}

func (lb *LnbitsClient) PayInvoice(ctx context.Context, request string, feeLimit uint64) (Payment, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return Payment{}, fmt.Errorf("invalid payment request: %v", err)
	}
	amount := uint64(bolt11.MSatoshi / 1000)

	body := map[string]any{
		"out":            true,
		"bolt11":         request,
		"fee_limit_msat": feeLimit * 1000,
	}
	bodyBytes, ambiguous, err := lb.rest.doSubmit(ctx, lb.host+"/api/v1/payments", body)
	if err != nil {
		if ambiguous {
			payment := Payment{
				PaymentHash: bolt11.PaymentHash,
				Amount:      amount,
				CheckingId:  bolt11.PaymentHash,
				Status:      Unknown,
			}
			return payment, &PaymentUnknownError{
				PaymentHash: bolt11.PaymentHash,
				CheckingId:  bolt11.PaymentHash,
				Err:         err,
			}
		}
		var beErr *backendError
		if errors.As(err, &beErr) {
			var errResponse lnbitsErrorResponse
			if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr != nil || errResponse.Detail == "" {
				return Payment{}, lb.rest.protocolErr("pay invoice", beErr)
			}
			return Payment{
				PaymentHash: bolt11.PaymentHash,
				Amount:      amount,
				Status:      Failed,
			}, errors.New(errResponse.Detail)
		}
		return Payment{}, err
	}

	var response struct {
		PaymentHash string `json:"payment_hash"`
		CheckingId  string `json:"checking_id"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Payment{}, lb.rest.protocolErr("pay invoice", err)
	}
	checkingId := response.CheckingId
	if checkingId == "" {
		checkingId = response.PaymentHash
	}

	payment := Payment{
		PaymentHash: bolt11.PaymentHash,
		Amount:      amount,
		CheckingId:  checkingId,
	}

	// the API acknowledges the submission; the boolean paid flag tells
	// whether it already settled
	status, err := lb.PaymentStatus(ctx, checkingId)
	if err != nil {
		payment.Status = Unknown
		return payment, &PaymentUnknownError{
			PaymentHash: bolt11.PaymentHash,
			CheckingId:  checkingId,
			Err:         err,
		}
	}

	payment.Status = status.Status
	payment.FeePaid = status.FeePaid
	payment.Preimage = status.Preimage
	return payment, nil
}

func (lb *LnbitsClient) PaymentStatus(ctx context.Context, checkingId string) (PaymentStatusResult, error) {
	bodyBytes, err := lb.rest.do(ctx, http.MethodGet, lb.host+"/api/v1/payments/"+checkingId, nil)
	if err != nil {
		return PaymentStatusResult{}, lb.wrapBackendErr("payment status", err)
	}

	var response struct {
		Paid     bool   `json:"paid"`
		Preimage string `json:"preimage"`
		Details  struct {
			Pending bool  `json:"pending"`
			FeeMsat int64 `json:"fee"`
		} `json:"details"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return PaymentStatusResult{}, lb.rest.protocolErr("payment status", err)
	}

	switch {
	case response.Paid:
		fee := response.Details.FeeMsat
		if fee < 0 {
			fee = -fee
		}
		return PaymentStatusResult{
			Status:   Settled,
			FeePaid:  uint64(fee / 1000),
			Preimage: response.Preimage,
		}, nil
	case response.Details.Pending:
		return PaymentStatusResult{Status: Pending}, nil
	default:
		return PaymentStatusResult{Status: Failed}, nil
	}
}

// EstimateFee derives the reserve from the decoded invoice amount since the
// custodial API has no estimate route.
func (lb *LnbitsClient) EstimateFee(ctx context.Context, request string) (uint64, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, fmt.Errorf("invalid payment request: %v", err)
	}
	amount := float64(bolt11.MSatoshi) / 1000
	return uint64(math.Ceil(amount * FeePercent)), nil
}

// wrapBackendErr turns an unhandled non-2xx response into a ProtocolError.
// Transport and auth errors pass through untouched.
func (lb *LnbitsClient) wrapBackendErr(op string, err error) error {
	var beErr *backendError
	if errors.As(err, &beErr) {
		var errResponse lnbitsErrorResponse
		if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr == nil && errResponse.Detail != "" {
			return lb.rest.protocolErr(op, errors.New(errResponse.Detail))
		}
		return lb.rest.protocolErr(op, beErr)
	}
	return err
}
