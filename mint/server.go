package mint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/satmint/satmint/mint/lightning"
	"github.com/satmint/satmint/mint/reconciler"
	"github.com/satmint/satmint/mint/storage"
)

type MintServer struct {
	httpServer *http.Server
	mint       *Mint
	logger     *slog.Logger
}

func SetupMintServer(config Config, ledger reconciler.Ledger) (*MintServer, error) {
	mint, err := LoadMint(config, ledger)
	if err != nil {
		return nil, err
	}

	mintServer := &MintServer{mint: mint, logger: mint.logger}
	mintServer.setupHttpServer(config.Port)
	return mintServer, nil
}

func (ms *MintServer) Start() error {
	ms.logger.Info("mint server listening on: " + ms.httpServer.Addr)
	return ms.httpServer.ListenAndServe()
}

func (ms *MintServer) Shutdown(ctx context.Context) error {
	if err := ms.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return ms.mint.Shutdown(ctx)
}

func (ms *MintServer) setupHttpServer(port string) {
	r := mux.NewRouter()

	r.HandleFunc("/v1/invoices", ms.createInvoice).Methods(http.MethodPost)
	r.HandleFunc("/v1/invoices/{hash}", ms.getInvoice).Methods(http.MethodGet)
	r.HandleFunc("/v1/payments", ms.payInvoice).Methods(http.MethodPost)
	r.HandleFunc("/v1/payments/{hash}", ms.getPayment).Methods(http.MethodGet)
	r.HandleFunc("/v1/health", ms.health).Methods(http.MethodGet)

	ms.httpServer = &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: r,
	}
}

type createInvoiceRequest struct {
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo"`
}

type invoiceResponse struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
	Amount         uint64 `json:"amount"`
	Status         string `json:"status"`
	Expiry         int64  `json:"expiry"`
}

type payInvoiceRequest struct {
	Request string `json:"request"`
}

type paymentResponse struct {
	PaymentHash string `json:"payment_hash"`
	Amount      uint64 `json:"amount"`
	FeeReserve  uint64 `json:"fee_reserve"`
	FeePaid     uint64 `json:"fee_paid"`
	Preimage    string `json:"preimage,omitempty"`
	Status      string `json:"status"`
}

func (ms *MintServer) createInvoice(rw http.ResponseWriter, req *http.Request) {
	var request createInvoiceRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		ms.writeErr(rw, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	invoice, err := ms.mint.RequestInvoice(req.Context(), request.Amount, request.Memo)
	if err != nil {
		ms.writeBackendErr(rw, err)
		return
	}

	ms.writeResponse(rw, http.StatusCreated, toInvoiceResponse(invoice))
}

func (ms *MintServer) getInvoice(rw http.ResponseWriter, req *http.Request) {
	hash := mux.Vars(req)["hash"]

	invoice, err := ms.mint.InvoiceStatus(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ms.writeErr(rw, http.StatusNotFound, fmt.Errorf("invoice '%v' not found", hash))
			return
		}
		ms.writeBackendErr(rw, err)
		return
	}

	ms.writeResponse(rw, http.StatusOK, toInvoiceResponse(invoice))
}

func (ms *MintServer) payInvoice(rw http.ResponseWriter, req *http.Request) {
	var request payInvoiceRequest
	if err := json.NewDecoder(req.Body).Decode(&request); err != nil {
		ms.writeErr(rw, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	payment, err := ms.mint.PayInvoice(req.Context(), request.Request)
	if err != nil {
		// a pending or unknown submission is not a client error. The
		// payment is being reconciled, report its current state.
		var unknownErr *lightning.PaymentUnknownError
		if errors.As(err, &unknownErr) ||
			(payment.PaymentHash != "" && payment.Status == lightning.Pending) {
			ms.writeResponse(rw, http.StatusAccepted, toPaymentResponse(payment))
			return
		}
		ms.writeBackendErr(rw, err)
		return
	}

	ms.writeResponse(rw, http.StatusOK, toPaymentResponse(payment))
}

func (ms *MintServer) getPayment(rw http.ResponseWriter, req *http.Request) {
	hash := mux.Vars(req)["hash"]

	payment, err := ms.mint.PaymentStatus(hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ms.writeErr(rw, http.StatusNotFound, fmt.Errorf("payment '%v' not found", hash))
			return
		}
		ms.writeBackendErr(rw, err)
		return
	}

	ms.writeResponse(rw, http.StatusOK, toPaymentResponse(payment))
}

func (ms *MintServer) health(rw http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	defer cancel()

	if err := ms.mint.lightningClient.ConnectionStatus(ctx); err != nil {
		ms.writeErr(rw, http.StatusServiceUnavailable, errors.New("lightning backend unreachable"))
		return
	}
	ms.writeResponse(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func toInvoiceResponse(invoice lightning.Invoice) invoiceResponse {
	return invoiceResponse{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    invoice.PaymentHash,
		Amount:         invoice.Amount,
		Status:         invoice.Status.String(),
		Expiry:         invoice.ExpiresAt().Unix(),
	}
}

func toPaymentResponse(payment lightning.Payment) paymentResponse {
	return paymentResponse{
		PaymentHash: payment.PaymentHash,
		Amount:      payment.Amount,
		FeeReserve:  payment.FeeReserve,
		FeePaid:     payment.FeePaid,
		Preimage:    payment.Preimage,
		Status:      payment.Status.String(),
	}
}

// writeBackendErr maps the lightning error taxonomy onto HTTP statuses.
func (ms *MintServer) writeBackendErr(rw http.ResponseWriter, err error) {
	var transportErr *lightning.TransportError
	var authErr *lightning.AuthError
	var protocolErr *lightning.ProtocolError

	switch {
	case errors.Is(err, lightning.ErrInvalidAmount),
		errors.Is(err, lightning.ErrInsufficientBalance):
		ms.writeErr(rw, http.StatusBadRequest, err)
	case errors.Is(err, lightning.ErrDuplicatePayment):
		ms.writeErr(rw, http.StatusConflict, err)
	case errors.As(err, &transportErr), errors.As(err, &authErr), errors.As(err, &protocolErr):
		ms.writeErr(rw, http.StatusBadGateway, err)
	default:
		ms.writeErr(rw, http.StatusInternalServerError, err)
	}
}

func (ms *MintServer) writeErr(rw http.ResponseWriter, code int, err error) {
	ms.logger.Error(err.Error())
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]string{"error": err.Error()})
}

func (ms *MintServer) writeResponse(rw http.ResponseWriter, code int, response any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(response); err != nil {
		ms.logErrorf("error writing response: %v", err)
	}
}

func (ms *MintServer) logErrorf(format string, v ...any) {
	ms.logger.Error(fmt.Sprintf(format, v...))
}
