package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/memory"
	"app/internal/payment"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, products ...model.Product) *echo.Echo {
	t.Helper()

	cfg := config.Config{
		Port:           "0",
		StorageBackend: config.BackendMemory,
		JWTSecret:      testSecret,
		PaymentTimeout: time.Second,
		PaymentLatency: time.Millisecond,
	}

	store := memory.NewStore()
	for _, p := range products {
		store.PutProduct(p)
	}

	cartRepo := memory.NewCartMemoryRepository(store)
	productRepo := memory.NewProductMemoryRepository(store)
	tx := memory.NewTxManagerMemory(store)
	gateway := payment.NewSimulatedGateway(cfg.PaymentLatency)

	srv := server.New(
		cfg,
		handler.NewProductHandler(usecase.NewProductUsecase(productRepo)),
		handler.NewCartHandler(usecase.NewCartUsecase(cartRepo, cartRepo, productRepo)),
		handler.NewOrderHandler(usecase.NewOrderUsecase(tx, gateway, cfg.PaymentTimeout)),
	)
	return srv.Echo()
}

func bearerToken(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": fmt.Sprintf("%d", userID),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(e *echo.Echo, method, path, token string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCartAPI_RequiresAuth(t *testing.T) {
	e := newTestServer(t)

	rec := doJSON(e, http.MethodGet, "/cart", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(e, http.MethodPost, "/checkout", "", map[string]string{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCartAPI_AddUpdateDelete(t *testing.T) {
	e := newTestServer(t, model.Product{ID: 1, Name: "mug", Price: 800, Stock: 10, IsActive: true})
	token := bearerToken(t, 1)

	// 追加
	rec := doJSON(e, http.MethodPost, "/cart", token, map[string]int64{"product_id": 1, "quantity": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var line usecase.CartLineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	assert.Equal(t, int64(2), line.Quantity)

	// 同一商品はマージ
	rec = doJSON(e, http.MethodPost, "/cart", token, map[string]int64{"product_id": 1, "quantity": 1}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var merged usecase.CartLineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &merged))
	assert.Equal(t, line.ID, merged.ID)
	assert.Equal(t, int64(3), merged.Quantity)

	// 数量変更
	rec = doJSON(e, http.MethodPatch, fmt.Sprintf("/cart/%d", line.ID), token, map[string]int64{"quantity": 5}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// 削除は2回目も204
	rec = doJSON(e, http.MethodDelete, fmt.Sprintf("/cart/%d", line.ID), token, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(e, http.MethodDelete, fmt.Sprintf("/cart/%d", line.ID), token, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// 空になっている
	rec = doJSON(e, http.MethodGet, "/cart", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cart usecase.CartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cart))
	assert.Empty(t, cart.Items)
}

func TestCartAPI_InsufficientStockCode(t *testing.T) {
	e := newTestServer(t, model.Product{ID: 1, Name: "mug", Price: 800, Stock: 2, IsActive: true})
	token := bearerToken(t, 1)

	rec := doJSON(e, http.MethodPost, "/cart", token, map[string]int64{"product_id": 1, "quantity": 3}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, usecase.CodeInsufficientStock, resp.Code)
}

// カートに product 16（12999円）を1点入れ、Pune宛てcredit_cardで
// チェックアウトすると、合計12999のcompleted注文ができて在庫が1減り、
// カートが空になるシナリオ。
func TestCheckoutAPI_FullScenario(t *testing.T) {
	e := newTestServer(t, model.Product{ID: 16, Name: "headphones", Price: 12999, Stock: 3, IsActive: true})
	token := bearerToken(t, 1)

	rec := doJSON(e, http.MethodPost, "/cart", token, map[string]int64{"product_id": 16, "quantity": 1}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(e, http.MethodPost, "/checkout", token, map[string]interface{}{
		"shipping_address": map[string]string{"city": "Pune"},
		"payment_method":   "credit_card",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var order usecase.OrderOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "completed", order.Status)
	assert.Equal(t, int64(12999), order.TotalPrice)
	assert.Equal(t, "Pune", order.ShippingAddress.City)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(12999), order.Items[0].LineTotal)

	// 在庫が1減っている
	rec = doJSON(e, http.MethodGet, "/products/16", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var p model.Product
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, int64(2), p.Stock)

	// カートは空
	rec = doJSON(e, http.MethodGet, "/cart", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cart usecase.CartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cart))
	assert.Empty(t, cart.Items)

	// 注文は参照できる
	rec = doJSON(e, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), token, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// 他人からは404
	rec = doJSON(e, http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), bearerToken(t, 2), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutAPI_IdempotencyKeyHeader(t *testing.T) {
	e := newTestServer(t, model.Product{ID: 1, Name: "mug", Price: 800, Stock: 10, IsActive: true})
	token := bearerToken(t, 1)

	rec := doJSON(e, http.MethodPost, "/cart", token, map[string]int64{"product_id": 1, "quantity": 2}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := map[string]interface{}{
		"shipping_address": map[string]string{"city": "Osaka"},
		"payment_method":   "credit_card",
	}
	headers := map[string]string{"Idempotency-Key": "retry-1"}

	rec = doJSON(e, http.MethodPost, "/checkout", token, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first usecase.OrderOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	rec = doJSON(e, http.MethodPost, "/checkout", token, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var second usecase.OrderOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	assert.Equal(t, first.ID, second.ID)
}

func TestCheckoutAPI_EmptyCart(t *testing.T) {
	e := newTestServer(t)
	token := bearerToken(t, 1)

	rec := doJSON(e, http.MethodPost, "/checkout", token, map[string]interface{}{
		"payment_method": "credit_card",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, usecase.CodeEmptyCart, resp.Code)
}

func TestProductsAPI_PublicList(t *testing.T) {
	e := newTestServer(t,
		model.Product{ID: 1, Name: "mug", Price: 800, Stock: 10, IsActive: true},
		model.Product{ID: 2, Name: "hidden", Price: 100, Stock: 5, IsActive: false},
	)

	rec := doJSON(e, http.MethodGet, "/products", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out usecase.ProductListOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, int64(1), out.Items[0].ID)
}
