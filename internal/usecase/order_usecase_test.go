package usecase

import (
	"context"
	"net/http"
	"testing"
	"time"

	"app/internal/domain/model"
	"app/internal/infra/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	err   error
	calls int
}

func (g *stubGateway) Charge(ctx context.Context, orderID int64, amount int64, method string) error {
	g.calls++
	return g.err
}

type checkoutTestEnv struct {
	store   *memory.Store
	cartUC  *CartUsecase
	orderUC *OrderUsecase
	gateway *stubGateway
}

func newCheckoutTestEnv(products ...model.Product) *checkoutTestEnv {
	s := memory.NewStore()
	for _, p := range products {
		s.PutProduct(p)
	}
	cartRepo := memory.NewCartMemoryRepository(s)
	gw := &stubGateway{}
	return &checkoutTestEnv{
		store:   s,
		cartUC:  NewCartUsecase(cartRepo, cartRepo, memory.NewProductMemoryRepository(s)),
		orderUC: NewOrderUsecase(memory.NewTxManagerMemory(s), gw, time.Second),
		gateway: gw,
	}
}

func (e *checkoutTestEnv) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	p, err := memory.NewProductMemoryRepository(e.store).FindByID(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func TestCheckout_EmptyCartFails(t *testing.T) {
	env := newCheckoutTestEnv()
	ctx := context.Background()

	_, err := env.orderUC.Checkout(ctx, 1, CheckoutInput{PaymentMethod: "credit_card"})
	assertHTTPError(t, err, http.StatusBadRequest, CodeEmptyCart)

	// 注文は作られない
	orders, err := env.orderUC.ListMyOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, env.gateway.calls)
}

func TestCheckout_InsufficientStockLeavesNothingBehind(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 100))
	ctx := context.Background()

	line, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 5})
	require.NoError(t, err)

	// カート投入後に在庫が減った状況を作る
	p := activeProduct(1, 500, 3)
	env.store.PutProduct(p)

	_, err = env.orderUC.Checkout(ctx, 1, CheckoutInput{PaymentMethod: "credit_card"})
	assertHTTPError(t, err, http.StatusBadRequest, CodeInsufficientStock)

	// 在庫・カートとも変更なし、注文なし
	assert.Equal(t, int64(3), env.stock(t, 1))

	cart, err := env.cartUC.GetCart(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, line.ID, cart.Items[0].ID)
	assert.Equal(t, int64(5), cart.Items[0].Quantity)

	orders, err := env.orderUC.ListMyOrders(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, env.gateway.calls)
}

func TestCheckout_Success(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 10), activeProduct(2, 300, 10))
	ctx := context.Background()

	_, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	_, err = env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 2, Quantity: 3})
	require.NoError(t, err)

	out, err := env.orderUC.Checkout(ctx, 1, CheckoutInput{
		ShippingAddress: model.ShippingAddress{City: "Tokyo"},
		PaymentMethod:   "credit_card",
	})
	require.NoError(t, err)

	assert.Equal(t, string(model.OrderStatusCompleted), out.Status)
	assert.Equal(t, int64(2*500+3*300), out.TotalPrice)
	assert.Equal(t, "Tokyo", out.ShippingAddress.City)

	// total == sum(lineTotal)
	var sum int64
	for _, it := range out.Items {
		sum += it.LineTotal
	}
	assert.Equal(t, out.TotalPrice, sum)

	// 在庫減算とカートクリア
	assert.Equal(t, int64(8), env.stock(t, 1))
	assert.Equal(t, int64(7), env.stock(t, 2))

	cart, err := env.cartUC.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	assert.Equal(t, 1, env.gateway.calls)
}

func TestCheckout_ClientTotalIsIgnored(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 10))
	ctx := context.Background()

	_, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)

	wrong := int64(1)
	out, err := env.orderUC.Checkout(ctx, 1, CheckoutInput{
		PaymentMethod: "credit_card",
		ClientTotal:   &wrong,
	})
	require.NoError(t, err)

	// サーバ計算の合計が正
	assert.Equal(t, int64(1000), out.TotalPrice)
}

func TestCheckout_PaymentFailureMarksOrderFailed(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 10))
	env.gateway.err = assert.AnError
	ctx := context.Background()

	_, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)

	_, err = env.orderUC.Checkout(ctx, 1, CheckoutInput{PaymentMethod: "credit_card"})
	assertHTTPError(t, err, http.StatusPaymentRequired, CodePaymentFailed)

	// 注文はfailedで残り、在庫とカートは巻き戻さない
	orders, err := env.orderUC.ListMyOrders(ctx, 1)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, string(model.OrderStatusFailed), orders[0].Status)

	assert.Equal(t, int64(8), env.stock(t, 1))

	cart, err := env.cartUC.GetCart(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCheckout_IdempotencyKeyDedup(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 10))
	ctx := context.Background()

	_, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 2})
	require.NoError(t, err)

	in := CheckoutInput{PaymentMethod: "credit_card", IdempotencyKey: "key-1"}

	first, err := env.orderUC.Checkout(ctx, 1, in)
	require.NoError(t, err)

	second, err := env.orderUC.Checkout(ctx, 1, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TotalPrice, second.TotalPrice)

	// 2回目は決済も在庫減算もやり直さない
	assert.Equal(t, 1, env.gateway.calls)
	assert.Equal(t, int64(8), env.stock(t, 1))
}

func TestGetMyOrderDetail_ForeignOrderIsNotFound(t *testing.T) {
	env := newCheckoutTestEnv(activeProduct(1, 500, 10))
	ctx := context.Background()

	_, err := env.cartUC.AddToCart(ctx, 1, AddCartInput{ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	out, err := env.orderUC.Checkout(ctx, 1, CheckoutInput{PaymentMethod: "credit_card"})
	require.NoError(t, err)

	got, err := env.orderUC.GetMyOrderDetail(ctx, 1, out.ID)
	require.NoError(t, err)
	assert.Equal(t, out.ID, got.ID)

	_, err = env.orderUC.GetMyOrderDetail(ctx, 2, out.ID)
	assertHTTPError(t, err, http.StatusNotFound, CodeNotFound)
}
