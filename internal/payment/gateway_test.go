package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedGateway_ChargeSucceedsAfterLatency(t *testing.T) {
	g := NewSimulatedGateway(time.Millisecond)
	err := g.Charge(context.Background(), 1, 12999, "credit_card")
	assert.NoError(t, err)
}

func TestSimulatedGateway_DeclinesNonPositiveAmount(t *testing.T) {
	g := NewSimulatedGateway(time.Millisecond)
	err := g.Charge(context.Background(), 1, 0, "credit_card")
	assert.ErrorIs(t, err, ErrDeclined)
}

func TestSimulatedGateway_TimesOutWhenContextExpires(t *testing.T) {
	g := NewSimulatedGateway(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	err := g.Charge(ctx, 1, 100, "credit_card")
	assert.ErrorIs(t, err, ErrTimeout)
}
