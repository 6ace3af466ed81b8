package lightning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newClnClient(serverURL string) *ClnClient {
	return SetupClnClient(Credentials{endpoint: serverURL, macaroon: testMacaroon})
}

func TestClnCreateInvoice(t *testing.T) {
	const hash = "a47c0eff134f0543e2b1a5c97b6ad46bbc6b9256b65b4bf8ca35d5c5f856e6dc"

	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		expectedMacaroon := base64.StdEncoding.EncodeToString(testMacaroon)
		if req.Header.Get("macaroon") != expectedMacaroon {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		if req.URL.Path != "/v1/invoice" {
			t.Errorf("unexpected path: %v", req.URL.Path)
		}

		var body map[string]any
		json.NewDecoder(req.Body).Decode(&body)
		if amountMsat, _ := body["amount_msat"].(float64); amountMsat != 21000 {
			t.Errorf("expected amount_msat '%v' but got '%v'", 21000, body["amount_msat"])
		}

		json.NewEncoder(rw).Encode(map[string]string{
			"bolt11":       "lnbc210n1fakeinvoice",
			"payment_hash": hash,
		})
	}))
	defer server.Close()

	client := newClnClient(server.URL)
	invoice, err := client.CreateInvoice(context.Background(), 21, "test", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error creating invoice: %v", err)
	}

	if invoice.PaymentHash != hash {
		t.Errorf("expected hash '%v' but got '%v'", hash, invoice.PaymentHash)
	}
	if invoice.PaymentRequest != "lnbc210n1fakeinvoice" {
		t.Errorf("expected payment request 'lnbc210n1fakeinvoice' but got '%v'", invoice.PaymentRequest)
	}
}

func TestClnInvoiceStatus(t *testing.T) {
	tests := []struct {
		status   string
		expected InvoiceStatus
	}{
		{status: "unpaid", expected: Unpaid},
		{status: "paid", expected: Paid},
		{status: "expired", expected: Expired},
	}

	for _, test := range tests {
		t.Run(test.status, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				if req.URL.Path != "/v1/listinvoices" {
					t.Errorf("unexpected path: %v", req.URL.Path)
				}
				json.NewEncoder(rw).Encode(map[string]any{
					"invoices": []map[string]string{{"status": test.status}},
				})
			}))
			defer server.Close()

			client := newClnClient(server.URL)
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

func TestClnInvoiceStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		json.NewEncoder(rw).Encode(map[string]any{"invoices": []any{}})
	}))
	defer server.Close()

	client := newClnClient(server.URL)
	_, err := client.InvoiceStatus(context.Background(), "somehash")

	var protocolErr *ProtocolError
	if !errors.As(err, &protocolErr) {
		t.Fatalf("expected protocol error but got '%v'", err)
	}
}

func TestClnPayInvoice(t *testing.T) {
	request, _, hash, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	tests := []struct {
		name        string
		response    map[string]any
		expected    PaymentState
		expectedErr bool
	}{
		{
			name: "complete payment",
			response: map[string]any{
				"status":           "complete",
				"payment_preimage": "abcdef",
				"amount_msat":      100000000,
				"amount_sent_msat": 100002000,
			},
			expected: Settled,
		},
		{
			name:     "failed payment",
			response: map[string]any{"status": "failed"},
			expected: Failed,
		},
		{
			name:        "pending after retry window",
			response:    map[string]any{"status": "pending"},
			expected:    Unknown,
			expectedErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				if req.URL.Path != "/v1/pay" {
					t.Errorf("unexpected path: %v", req.URL.Path)
				}
				json.NewEncoder(rw).Encode(test.response)
			}))
			defer server.Close()

			client := newClnClient(server.URL)
			payment, err := client.PayInvoice(context.Background(), request, 1000)

			if test.expectedErr {
				var unknownErr *PaymentUnknownError
				if !errors.As(err, &unknownErr) {
					t.Fatalf("expected payment unknown error but got '%v'", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if payment.Status != test.expected {
				t.Errorf("expected status '%v' but got '%v'", test.expected, payment.Status)
			}
			if payment.PaymentHash != hash {
				t.Errorf("expected hash '%v' but got '%v'", hash, payment.PaymentHash)
			}
			if test.expected == Settled && payment.FeePaid != 2 {
				t.Errorf("expected fee paid '%v' but got '%v'", 2, payment.FeePaid)
			}
		})
	}
}

func TestClnPaymentStatus(t *testing.T) {
	tests := []struct {
		name     string
		response map[string]any
		expected PaymentState
	}{
		{
			name:     "never seen by node",
			response: map[string]any{"pays": []any{}},
			expected: Failed,
		},
		{
			name: "complete",
			response: map[string]any{
				"pays": []map[string]any{{
					"status":           "complete",
					"preimage":         "abcdef",
					"amount_msat":      100000000,
					"amount_sent_msat": 100003000,
				}},
			},
			expected: Settled,
		},
		{
			name: "still pending",
			response: map[string]any{
				"pays": []map[string]any{{"status": "pending"}},
			},
			expected: Pending,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
				if req.URL.Path != "/v1/listpays" {
					t.Errorf("unexpected path: %v", req.URL.Path)
				}
				json.NewEncoder(rw).Encode(test.response)
			}))
			defer server.Close()

			client := newClnClient(server.URL)
			result, err := client.PaymentStatus(context.Background(), "somehash")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if result.Status != test.expected {
				t.Errorf("expected status '%v' but got '%v'", test.expected, result.Status)
			}
			if test.expected == Settled && result.FeePaid != 3 {
				t.Errorf("expected fee paid '%v' but got '%v'", 3, result.FeePaid)
			}
		})
	}
}
