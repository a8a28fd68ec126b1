package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDeclined = errors.New("payment declined")
	ErrTimeout  = errors.New("payment timed out")
)

// Gateway は外部決済の約束。Chargeは成功かエラーのどちらかを必ず返す。
type Gateway interface {
	Charge(ctx context.Context, orderID int64, amount int64, method string) error
}

// SimulatedGateway は決済のシミュレーション。
// 固定レイテンシ後に成功する。ctxの期限が先に来たらErrTimeout。
type SimulatedGateway struct {
	Latency time.Duration
}

func NewSimulatedGateway(latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{Latency: latency}
}

func (g *SimulatedGateway) Charge(ctx context.Context, orderID int64, amount int64, method string) error {
	if amount <= 0 {
		return ErrDeclined
	}

	timer := time.NewTimer(g.Latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}
