package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newLnbitsClient(serverURL string) *LnbitsClient {
	return SetupLnbitsClient(Credentials{endpoint: serverURL, apiKey: "testkey"})
}

func TestLnbitsCreateInvoice(t *testing.T) {
	const hash = "a47c0eff134f0543e2b1a5c97b6ad46bbc6b9256b65b4bf8ca35d5c5f856e6dc"

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.Header.Get("X-Api-Key") != "testkey" {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		if req.Method != http.MethodPost || req.URL.Path != "/api/v1/payments" {
			t.Errorf("unexpected request: %v %v", req.Method, req.URL.Path)
		}

		var body map[string]any
		json.NewDecoder(req.Body).Decode(&body)
		if out, ok := body["out"].(bool); !ok || out {
			t.Errorf("expected out to be false, got '%v'", body["out"])
		}

		json.NewEncoder(rw).Encode(map[string]string{
			"payment_hash":    hash,
			"payment_request": "lnbc210n1fakeinvoice",
		})
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	invoice, err := client.CreateInvoice(context.Background(), 21, "test invoice", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating invoice: %v", err)
	}

	if invoice.PaymentHash != hash {
		t.Errorf("expected hash '%v' but got '%v'", hash, invoice.PaymentHash)
	}
	if invoice.Amount != 21 {
		t.Errorf("expected amount '%v' but got '%v'", 21, invoice.Amount)
	}
	if invoice.Status != Unpaid {
		t.Errorf("expected status '%v' but got '%v'", Unpaid, invoice.Status)
	}
}

func TestLnbitsCreateInvoiceZeroAmount(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	_, err := client.CreateInvoice(context.Background(), 0, "", time.Hour)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected error '%v' but got '%v'", ErrInvalidAmount, err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests to backend but got %v", calls.Load())
	}
}

func TestLnbitsAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusUnauthorized)
		rw.Write([]byte(`{"detail": "invalid key"}`))
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	_, err := client.CreateInvoice(context.Background(), 21, "", time.Hour)

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected auth error but got '%v'", err)
	}
	if IsRetryable(err) {
		t.Error("auth error should not be retryable")
	}
}

func TestLnbitsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {}))
	server.Close()

	client := newLnbitsClient(server.URL)
	_, err := client.CreateInvoice(context.Background(), 21, "", time.Hour)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error but got '%v'", err)
	}
	if !IsRetryable(err) {
		t.Error("transport error should be retryable")
	}
}

func TestLnbitsPayInvoiceTLSFailure(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewTLSServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	request, _, _, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	// the client does not trust the server's certificate, so the handshake
	// is rejected before any request byte is written. The submission was
	// never made and must not be reported as ambiguous.
	client := newLnbitsClient(server.URL)
	_, err = client.PayInvoice(context.Background(), request, 1000)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected transport error but got '%v'", err)
	}
	if !IsRetryable(err) {
		t.Error("transport error should be retryable")
	}
	var unknownErr *PaymentUnknownError
	if errors.As(err, &unknownErr) {
		t.Error("handshake failure should not be ambiguous")
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests to reach the backend but got %v", calls.Load())
	}
}

func TestLnbitsMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	_, err := client.CreateInvoice(context.Background(), 21, "", time.Hour)

	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("expected protocol error but got '%v'", err)
	}
}

func TestLnbitsInvoiceStatus(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		expected InvoiceStatus
	}{
		{
			name:     "paid invoice",
			response: map[string]any{"paid": true},
			expected: Paid,
		},
		{
			name: "unpaid invoice",
			response: map[string]any{
				"paid":    false,
				"details": map[string]any{"time": time.Now().Unix(), "expiry": 3600},
			},
			expected: Unpaid,
		},
		{
			name: "expired invoice",
			response: map[string]any{
				"paid":    false,
				"details": map[string]any{"time": time.Now().Add(-2 * time.Hour).Unix(), "expiry": 3600},
			},
			expected: Expired,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				json.NewEncoder(rw).Encode(test.response)
			}))
			defer server.Close()

			client := newLnbitsClient(server.URL)
			status, err := client.InvoiceStatus(context.Background(), "somehash")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status != test.expected {
				t.Errorf("expected status '%v' but got '%v'", test.expected, status)
			}
		})
	}
}

func TestLnbitsPayInvoice(t *testing.T) {
	request, _, hash, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost {
			json.NewEncoder(rw).Encode(map[string]string{"payment_hash": hash})
			return
		}
		// follow-up status check
		json.NewEncoder(rw).Encode(map[string]any{
			"paid":     true,
			"preimage": "a1b2c3",
			"details":  map[string]any{"fee": -2000},
		})
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	payment, err := client.PayInvoice(context.Background(), request, 1000)
	if err != nil {
		t.Fatalf("unexpected error paying invoice: %v", err)
	}

	if payment.Status != Settled {
		t.Errorf("expected status '%v' but got '%v'", Settled, payment.Status)
	}
	if payment.PaymentHash != hash {
		t.Errorf("expected hash '%v' but got '%v'", hash, payment.PaymentHash)
	}
	if payment.FeePaid != 2 {
		t.Errorf("expected fee paid '%v' but got '%v'", 2, payment.FeePaid)
	}
	if payment.Preimage != "a1b2c3" {
		t.Errorf("expected preimage '%v' but got '%v'", "a1b2c3", payment.Preimage)
	}
}

func TestLnbitsPayInvoiceStatusCheckFails(t *testing.T) {
	request, _, hash, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodPost {
			json.NewEncoder(rw).Encode(map[string]string{"payment_hash": hash})
			return
		}
		rw.Write([]byte("garbage"))
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	payment, err := client.PayInvoice(context.Background(), request, 1000)

	var unknownErr *PaymentUnknownError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected payment unknown error but got '%v'", err)
	}
	if payment.Status != Unknown {
		t.Errorf("expected status '%v' but got '%v'", Unknown, payment.Status)
	}
	if payment.CheckingId != hash {
		t.Errorf("expected checking id '%v' but got '%v'", hash, payment.CheckingId)
	}
}

func TestLnbitsPayInvoiceRejected(t *testing.T) {
	request, _, _, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"detail": "insufficient wallet balance"})
	}))
	defer server.Close()

	client := newLnbitsClient(server.URL)
	payment, err := client.PayInvoice(context.Background(), request, 1000)
	if err == nil {
		t.Fatal("expected error but got nil")
	}
	if payment.Status != Failed {
		t.Errorf("expected status '%v' but got '%v'", Failed, payment.Status)
	}
	if err.Error() != "insufficient wallet balance" {
		t.Errorf("expected error 'insufficient wallet balance' but got '%v'", err)
	}
}

func TestLnbitsEstimateFee(t *testing.T) {
	request, _, _, err := createFakeInvoice(50000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	client := newLnbitsClient("http://127.0.0.1:0")
	fee, err := client.EstimateFee(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := uint64(500)
	if fee != expected {
		t.Errorf("expected fee '%v' but got '%v'", expected, fee)
	}

	_, err = client.EstimateFee(context.Background(), "notaninvoice")
	if err == nil {
		t.Fatal("expected error for invalid payment request")
	}
}
