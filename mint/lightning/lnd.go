package lightning

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// LndClient talks to an LND node over its REST proxy. The macaroon goes in
// the Grpc-Metadata-macaroon header hex encoded and the node's TLS cert is
// pinned on the transport.
type LndClient struct {
	rest restClient
	host string
}

func SetupLndClient(creds Credentials) *LndClient {
	return &LndClient{
		rest: restClient{
			backend: "lnd",
			client:  creds.httpClient(),
			headers: map[string]string{
				"Grpc-Metadata-macaroon": hex.EncodeToString(creds.macaroon),
			},
		},
		host: creds.endpoint,
	}
}

type lndErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (lnd *LndClient) ConnectionStatus(ctx context.Context) error {
	_, err := lnd.rest.do(ctx, http.MethodGet, lnd.host+"/v1/getinfo", nil)
	return lnd.wrapBackendErr("getinfo", err)
}

func (lnd *LndClient) CreateInvoice(ctx context.Context, amount uint64, memo string, expiry time.Duration) (Invoice, error) {
	if amount == 0 {
		return Invoice{}, ErrInvalidAmount
	}

	body := map[string]any{
		"value":  amount,
		"memo":   memo,
		"expiry": int64(expiry.Seconds()),
	}
	bodyBytes, err := lnd.rest.do(ctx, http.MethodPost, lnd.host+"/v1/invoices", body)
	if err != nil {
		return Invoice{}, lnd.wrapBackendErr("create invoice", err)
	}

	var response struct {
		PaymentRequest string `json:"payment_request"`
		RHash          string `json:"r_hash"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Invoice{}, lnd.rest.protocolErr("create invoice", err)
	}

	// r_hash comes back base64 encoded
	paymentHash, err := base64ToHex(response.RHash)
	if err != nil || response.PaymentRequest == "" {
		return Invoice{}, lnd.rest.protocolErr("create invoice",
			fmt.Errorf("response missing payment request or hash"))
	}

	return Invoice{
		PaymentRequest: response.PaymentRequest,
		PaymentHash:    paymentHash,
		Amount:         amount,
		Memo:           memo,
		CreatedAt:      time.Now(),
		Expiry:         expiry,
		Status:         Unpaid,
	}, nil
}

func (lnd *LndClient) InvoiceStatus(ctx context.Context, hash string) (InvoiceStatus, error) {
	urlHash, err := hexToBase64URL(hash)
	if err != nil {
		return Unpaid, fmt.Errorf("invalid payment hash: %v", err)
	}

	url := lnd.host + "/v2/invoices/lookup?payment_hash=" + urlHash
	bodyBytes, err := lnd.rest.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Unpaid, lnd.wrapBackendErr("lookup invoice", err)
	}

	var response struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Unpaid, lnd.rest.protocolErr("lookup invoice", err)
	}

	switch response.State {
	case "OPEN", "ACCEPTED":
		return Unpaid, nil
	case "SETTLED":
		return Paid, nil
	case "CANCELED":
		return Expired, nil
	default:
		return Unpaid, lnd.rest.protocolErr("lookup invoice",
			fmt.Errorf("unrecognized invoice state '%s'", response.State))
	}
}

func (lnd *LndClient) PayInvoice(ctx context.Context, request string, feeLimit uint64) (Payment, error) {
	body := map[string]any{
		"payment_request": request,
		"fee_limit":       map[string]any{"fixed": feeLimit},
	}
	bodyBytes, ambiguous, err := lnd.rest.doSubmit(ctx, lnd.host+"/v1/channels/transactions", body)
	if err != nil {
		if ambiguous {
			payment := Payment{Status: Unknown}
			return payment, &PaymentUnknownError{Err: err}
		}
		var beErr *backendError
		if errors.As(err, &beErr) {
			var errResponse lndErrorResponse
			if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr != nil || errResponse.Message == "" {
				return Payment{}, lnd.rest.protocolErr("pay invoice", beErr)
			}
			return Payment{Status: Failed}, errors.New(errResponse.Message)
		}
		return Payment{}, err
	}

	var response struct {
		PaymentError    string `json:"payment_error"`
		PaymentHash     string `json:"payment_hash"`
		PaymentPreimage string `json:"payment_preimage"`
		PaymentRoute    struct {
			TotalFees int64 `json:"total_fees,string"`
			TotalAmt  int64 `json:"total_amt,string"`
		} `json:"payment_route"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Payment{}, lnd.rest.protocolErr("pay invoice", err)
	}

	paymentHash, err := base64ToHex(response.PaymentHash)
	if err != nil {
		return Payment{}, lnd.rest.protocolErr("pay invoice",
			fmt.Errorf("invalid payment hash in response: %v", err))
	}

	if response.PaymentError != "" {
		return Payment{
			PaymentHash: paymentHash,
			CheckingId:  paymentHash,
			Status:      Failed,
		}, errors.New(response.PaymentError)
	}

	preimage, err := base64ToHex(response.PaymentPreimage)
	if err != nil {
		return Payment{}, lnd.rest.protocolErr("pay invoice",
			fmt.Errorf("invalid preimage in response: %v", err))
	}

	return Payment{
		PaymentHash: paymentHash,
		Amount:      uint64(response.PaymentRoute.TotalAmt - response.PaymentRoute.TotalFees),
		FeePaid:     uint64(response.PaymentRoute.TotalFees),
		CheckingId:  paymentHash,
		Preimage:    preimage,
		Status:      Settled,
	}, nil
}

func (lnd *LndClient) PaymentStatus(ctx context.Context, checkingId string) (PaymentStatusResult, error) {
	urlHash, err := hexToBase64URL(checkingId)
	if err != nil {
		return PaymentStatusResult{}, fmt.Errorf("invalid checking id: %v", err)
	}

	url := lnd.host + "/v2/router/track/" + urlHash + "?no_inflight_updates=true"
	bodyBytes, err := lnd.rest.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return PaymentStatusResult{}, lnd.wrapBackendErr("track payment", err)
	}

	var response struct {
		Result struct {
			Status          string `json:"status"`
			FeeSat          int64  `json:"fee_sat,string"`
			PaymentPreimage string `json:"payment_preimage"`
		} `json:"result"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return PaymentStatusResult{}, lnd.rest.protocolErr("track payment", err)
	}

	switch response.Result.Status {
	case "IN_FLIGHT":
		return PaymentStatusResult{Status: Pending}, nil
	case "SUCCEEDED":
		return PaymentStatusResult{
			Status:   Settled,
			FeePaid:  uint64(response.Result.FeeSat),
			Preimage: response.Result.PaymentPreimage,
		}, nil
	case "FAILED":
		return PaymentStatusResult{Status: Failed}, nil
	default:
		return PaymentStatusResult{Status: Unknown}, nil
	}
}

func (lnd *LndClient) EstimateFee(ctx context.Context, request string) (uint64, error) {
	bodyBytes, err := lnd.rest.do(ctx, http.MethodGet, lnd.host+"/v1/payreq/"+request, nil)
	if err != nil {
		return 0, lnd.wrapBackendErr("decode payreq", err)
	}

	var response struct {
		NumSatoshis int64 `json:"num_satoshis,string"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return 0, lnd.rest.protocolErr("decode payreq", err)
	}
	if response.NumSatoshis <= 0 {
		return 0, lnd.rest.protocolErr("decode payreq", errors.New("invoice has no amount"))
	}

	return uint64(math.Ceil(float64(response.NumSatoshis) * FeePercent)), nil
}

func (lnd *LndClient) wrapBackendErr(op string, err error) error {
	var beErr *backendError
	if errors.As(err, &beErr) {
		var errResponse lndErrorResponse
		if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr == nil && errResponse.Message != "" {
			return lnd.rest.protocolErr(op, errors.New(errResponse.Message))
		}
		return lnd.rest.protocolErr(op, beErr)
	}
	return err
}

func base64ToHex(s string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	if len(decoded) != 32 {
		return "", fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	return hex.EncodeToString(decoded), nil
}

func hexToBase64URL(s string) (string, error) {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(decoded), nil
}
