package lightning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// ClnClient talks to a Core Lightning node over a REST proxy. Auth is the
// macaroon presented base64 encoded in its own header, with the proxy's TLS
// cert pinned. Its status vocabulary differs from LND's: payments report
// complete/pending/failed, where pending after the node's own retry window
// means in-flight but unconfirmed.
type ClnClient struct {
	rest restClient
	host string
}

func SetupClnClient(creds Credentials) *ClnClient {
	return &ClnClient{
		rest: restClient{
			backend: "cln",
			client:  creds.httpClient(),
			headers: map[string]string{
				"macaroon": base64.StdEncoding.EncodeToString(creds.macaroon),
			},
		},
		host: creds.endpoint,
	}
}

type clnErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (cln *ClnClient) ConnectionStatus(ctx context.Context) error {
	_, err := cln.rest.do(ctx, http.MethodPost, cln.host+"/v1/getinfo", nil)
	return cln.wrapBackendErr("getinfo", err)
}

func (cln *ClnClient) CreateInvoice(ctx context.Context, amount uint64, memo string, expiry time.Duration) (Invoice, error) {
	if amount == 0 {
		return Invoice{}, ErrInvalidAmount
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	body := map[string]any{
		"amount_msat": amount * 1000,
		"label":       fmt.Sprintf("%d%d", time.Now().Unix(), r.Int()),
		"description": memo,
		"expiry":      int64(expiry.Seconds()),
	}
	bodyBytes, err := cln.rest.do(ctx, http.MethodPost, cln.host+"/v1/invoice", body)
	if err != nil {
		return Invoice{}, cln.wrapBackendErr("invoice", err)
	}

	var response struct {
		Bolt11      string `json:"bolt11"`
		PaymentHash string `json:"payment_hash"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Invoice{}, cln.rest.protocolErr("invoice", err)
	}
	if response.Bolt11 == "" || len(response.PaymentHash) != 64 {
		return Invoice{}, cln.rest.protocolErr("invoice",
			fmt.Errorf("response missing bolt11 or payment hash"))
	}

	return Invoice{
		PaymentRequest: response.Bolt11,
		PaymentHash:    response.PaymentHash,
		Amount:         amount,
		Memo:           memo,
		CreatedAt:      time.Now(),
		Expiry:         expiry,
		Status:         Unpaid,
	}, nil
}

func (cln *ClnClient) InvoiceStatus(ctx context.Context, hash string) (InvoiceStatus, error) {
	body := map[string]string{"payment_hash": hash}
	bodyBytes, err := cln.rest.do(ctx, http.MethodPost, cln.host+"/v1/listinvoices", body)
	if err != nil {
		return Unpaid, cln.wrapBackendErr("listinvoices", err)
	}

	var response struct {
		Invoices []struct {
			Status string `json:"status"`
		} `json:"invoices"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Unpaid, cln.rest.protocolErr("listinvoices", err)
	}
	if len(response.Invoices) == 0 {
		return Unpaid, cln.rest.protocolErr("listinvoices", errors.New("invoice not found"))
	}

	switch response.Invoices[0].Status {
	case "unpaid":
		return Unpaid, nil
	case "paid":
		return Paid, nil
	case "expired":
		return Expired, nil
	default:
		return Unpaid, cln.rest.protocolErr("listinvoices",
			fmt.Errorf("unrecognized invoice status '%s'", response.Invoices[0].Status))
	}
}

func (cln *ClnClient) PayInvoice(ctx context.Context, request string, feeLimit uint64) (Payment, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return Payment{}, fmt.Errorf("invalid payment request: %v", err)
	}
	amount := uint64(bolt11.MSatoshi / 1000)

	body := map[string]any{
		"bolt11":    request,
		"maxfee":    feeLimit * 1000,
		"retry_for": 30,
	}
	bodyBytes, ambiguous, err := cln.rest.doSubmit(ctx, cln.host+"/v1/pay", body)
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
			var errResponse clnErrorResponse
			if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr != nil || errResponse.Message == "" {
				return Payment{}, cln.rest.protocolErr("pay", beErr)
			}
			return Payment{
				PaymentHash: bolt11.PaymentHash,
				Amount:      amount,
				CheckingId:  bolt11.PaymentHash,
				Status:      Failed,
			}, errors.New(errResponse.Message)
		}
		return Payment{}, err
	}

	var response struct {
		Preimage       string `json:"payment_preimage"`
		Status         string `json:"status"`
		AmountMsat     uint64 `json:"amount_msat"`
		AmountSentMsat uint64 `json:"amount_sent_msat"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return Payment{}, cln.rest.protocolErr("pay", err)
	}

	payment := Payment{
		PaymentHash: bolt11.PaymentHash,
		Amount:      amount,
		CheckingId:  bolt11.PaymentHash,
	}

	switch response.Status {
	case "complete":
		payment.Status = Settled
		payment.Preimage = response.Preimage
		if response.AmountSentMsat >= response.AmountMsat {
			payment.FeePaid = (response.AmountSentMsat - response.AmountMsat) / 1000
		}
		return payment, nil
	case "failed":
		payment.Status = Failed
		return payment, nil
	case "pending":
		// still in flight after the node's retry window: neither success
		// nor failure can be assumed
		payment.Status = Unknown
		return payment, &PaymentUnknownError{
			PaymentHash: bolt11.PaymentHash,
			CheckingId:  bolt11.PaymentHash,
			Err:         errors.New("payment still pending after retry window"),
		}
	default:
		return Payment{}, cln.rest.protocolErr("pay",
			fmt.Errorf("unrecognized payment status '%s'", response.Status))
	}
}

func (cln *ClnClient) PaymentStatus(ctx context.Context, checkingId string) (PaymentStatusResult, error) {
	body := map[string]string{"payment_hash": checkingId}
	bodyBytes, err := cln.rest.do(ctx, http.MethodPost, cln.host+"/v1/listpays", body)
	if err != nil {
		return PaymentStatusResult{}, cln.wrapBackendErr("listpays", err)
	}

	var response struct {
		Pays []struct {
			Status         string `json:"status"`
			Preimage       string `json:"preimage"`
			AmountMsat     uint64 `json:"amount_msat"`
			AmountSentMsat uint64 `json:"amount_sent_msat"`
		} `json:"pays"`
	}
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return PaymentStatusResult{}, cln.rest.protocolErr("listpays", err)
	}
	if len(response.Pays) == 0 {
		// the node never saw this payment, so nothing was sent
		return PaymentStatusResult{Status: Failed}, nil
	}

	pay := response.Pays[0]
	switch pay.Status {
	case "complete":
		result := PaymentStatusResult{Status: Settled, Preimage: pay.Preimage}
		if pay.AmountSentMsat >= pay.AmountMsat {
			result.FeePaid = (pay.AmountSentMsat - pay.AmountMsat) / 1000
		}
		return result, nil
	case "failed":
		return PaymentStatusResult{Status: Failed}, nil
	default:
		return PaymentStatusResult{Status: Pending}, nil
	}
}

func (cln *ClnClient) EstimateFee(ctx context.Context, request string) (uint64, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, fmt.Errorf("invalid payment request: %v", err)
	}
	amount := float64(bolt11.MSatoshi) / 1000
	return uint64(math.Ceil(amount * FeePercent)), nil
}

func (cln *ClnClient) wrapBackendErr(op string, err error) error {
	var beErr *backendError
	if errors.As(err, &beErr) {
		var errResponse clnErrorResponse
		if jsonErr := json.Unmarshal(beErr.body, &errResponse); jsonErr == nil && errResponse.Message != "" {
			return cln.rest.protocolErr(op, errors.New(errResponse.Message))
		}
		return cln.rest.protocolErr(op, beErr)
	}
	return err
}
