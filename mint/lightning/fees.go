package lightning

import (
	"context"
	"fmt"
	"math"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	// DefaultReservePercent is the safety margin added on top of the
	// backend's fee estimate.
	DefaultReservePercent = 0.01
	// DefaultMinReserve is the floor in sats for any fee reserve.
	DefaultMinReserve = 10
)

// FeeEstimator computes the fee reserve set aside before an outgoing
// payment. It wraps the backend's estimate with a safety margin so a payment
// is not rejected later solely due to routing fee variance. The reserve is
// computed fresh for every payment, never cached.
type FeeEstimator struct {
	Client Client
	// margin as a fraction of the payment amount
	Percent    float64
	MinReserve uint64
}

func NewFeeEstimator(client Client) *FeeEstimator {
	return &FeeEstimator{
		Client:     client,
		Percent:    DefaultReservePercent,
		MinReserve: DefaultMinReserve,
	}
}

// Reserve returns the fee reserve in sats for paying the invoice.
func (fe *FeeEstimator) Reserve(ctx context.Context, request string) (uint64, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, fmt.Errorf("invalid payment request: %v", err)
	}

	estimate, err := fe.Client.EstimateFee(ctx, request)
	if err != nil {
		return 0, err
	}

	margin := uint64(math.Ceil(float64(bolt11.MSatoshi) / 1000 * fe.Percent))
	reserve := estimate + margin
	if reserve < fe.MinReserve {
		reserve = fe.MinReserve
	}
	return reserve, nil
}
