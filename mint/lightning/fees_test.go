package lightning

import (
	"context"
	"errors"
	"testing"
)

// stubFeeClient scripts the fee estimate the backend reports.
type stubFeeClient struct {
	Client
	fee uint64
	err error
}

func (c *stubFeeClient) EstimateFee(ctx context.Context, request string) (uint64, error) {
	return c.fee, c.err
}

func TestFeeEstimatorReserve(t *testing.T) {
	request, _, _, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	tests := []struct {
		name     string
		fee      uint64
		expected uint64
	}{
		// 1% margin on 100000 sats is 1000
		{name: "estimate plus margin", fee: 50, expected: 1050},
		{name: "margin only", fee: 0, expected: 1000},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			estimator := NewFeeEstimator(&stubFeeClient{fee: test.fee})
			reserve, err := estimator.Reserve(context.Background(), request)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reserve != test.expected {
				t.Errorf("expected reserve '%v' but got '%v'", test.expected, reserve)
			}
		})
	}
}

func TestFeeEstimatorMinReserve(t *testing.T) {
	// small enough that the percent margin is below the floor
	request, _, _, err := createFakeInvoice(100)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	estimator := NewFeeEstimator(&stubFeeClient{fee: 0})
	reserve, err := estimator.Reserve(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reserve != DefaultMinReserve {
		t.Errorf("expected reserve '%v' but got '%v'", uint64(DefaultMinReserve), reserve)
	}
}

func TestFeeEstimatorErrors(t *testing.T) {
	estimator := NewFeeEstimator(&stubFeeClient{})
	if _, err := estimator.Reserve(context.Background(), "notaninvoice"); err == nil {
		t.Fatal("expected error for invalid payment request")
	}

	request, _, _, err := createFakeInvoice(100000)
	if err != nil {
		t.Fatalf("error creating test invoice: %v", err)
	}

	estimateErr := errors.New("backend down")
	estimator = NewFeeEstimator(&stubFeeClient{err: estimateErr})
	if _, err := estimator.Reserve(context.Background(), request); !errors.Is(err, estimateErr) {
		t.Fatalf("expected error '%v' but got '%v'", estimateErr, err)
	}
}
