// Package cartclient はカートAPIのクライアント。
// ローカルのカートビューを楽観的に更新し、サーバ応答で突き合わせる。
// 失敗時はミューテーション前のスナップショットへ巻き戻す。
package cartclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type ErrorKind string

const (
	ErrorNone               ErrorKind = ""
	ErrorUnauthorized       ErrorKind = "unauthorized"
	ErrorInvalidQuantity    ErrorKind = "invalid_quantity"
	ErrorLineNotFound       ErrorKind = "line_not_found"
	ErrorEmptyCart          ErrorKind = "empty_cart"
	ErrorProductNotFound    ErrorKind = "product_not_found"
	ErrorInsufficientStock  ErrorKind = "insufficient_stock"
	ErrorPaymentFailed      ErrorKind = "payment_failed"
	ErrorStorageUnavailable ErrorKind = "storage_unavailable"
	ErrorBadRequest         ErrorKind = "bad_request"
)

// Line はローカルビュー上のカート明細。
// サーバ未確定の行はIDが負（仮ID）。
type Line struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// MutationResult は各ミューテーションの結果。panicやthrowはしない。
// Degraded はサーバ未達でローカル状態だけが進んでいることを示す。
type MutationResult struct {
	Success  bool
	Kind     ErrorKind
	Degraded bool
	Line     *Line
}

type ShippingAddress struct {
	Name       string `json:"name"`
	PostalCode string `json:"postal_code"`
	City       string `json:"city"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type OrderLine struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type Order struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	TotalPrice      int64           `json:"total_price"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Items           []OrderLine     `json:"items"`
}

type CheckoutResult struct {
	Success bool
	Kind    ErrorKind
	Order   *Order
}

type Client struct {
	baseURL string
	token   string
	hc      *http.Client

	mu         sync.Mutex
	lines      []Line
	degraded   bool
	nextTempID int64
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(baseURL string, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		hc:         &http.Client{Timeout: 10 * time.Second},
		nextTempID: -1,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lines はローカルビューのコピーを返す。
func (c *Client) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Client) TotalPrice() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, l := range c.lines {
		total += l.Price * l.Quantity
	}
	return total
}

func (c *Client) TotalItems() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Degraded はローカルビューがサーバと同期できていない間true。
func (c *Client) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Refresh はサーバの正データでローカルビューを置き換える。
func (c *Client) Refresh(ctx context.Context) error {
	var resp struct {
		Items []Line `json:"items"`
		Total int64  `json:"total"`
	}
	status, kind, err := c.do(ctx, http.MethodGet, "/cart", nil, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("refresh failed: %s", kind)
	}

	c.mu.Lock()
	c.lines = resp.Items
	c.degraded = false
	c.mu.Unlock()
	return nil
}

// AddToCart はローカルビューを先に更新してからサーバを呼ぶ。
// 成功したらサーバの明細（採番済みID）を採用、失敗なら巻き戻す。
func (c *Client) AddToCart(ctx context.Context, productID int64, quantity int64, name string, price int64) MutationResult {
	if quantity < 1 {
		return MutationResult{Kind: ErrorInvalidQuantity}
	}

	c.mu.Lock()
	snapshot := c.snapshot()
	localID := c.applyAdd(productID, quantity, name, price)
	c.mu.Unlock()

	body := map[string]int64{"product_id": productID, "quantity": quantity}
	var line Line
	status, kind, err := c.do(ctx, http.MethodPost, "/cart", body, &line)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		//サーバ未達。ローカル状態は保持してdegradedを立てる。
		c.degraded = true
		l := c.findLine(localID)
		return MutationResult{Success: false, Degraded: true, Kind: ErrorStorageUnavailable, Line: l}
	}
	if status != http.StatusCreated {
		c.lines = snapshot
		return MutationResult{Kind: kind}
	}

	c.adoptLine(localID, line)
	return MutationResult{Success: true, Line: &line}
}

// UpdateQuantity は指定明細の数量を変更する。
func (c *Client) UpdateQuantity(ctx context.Context, lineID int64, quantity int64) MutationResult {
	if quantity < 1 {
		return MutationResult{Kind: ErrorInvalidQuantity}
	}

	c.mu.Lock()
	if c.findLine(lineID) == nil {
		c.mu.Unlock()
		return MutationResult{Kind: ErrorLineNotFound}
	}
	snapshot := c.snapshot()
	c.applyQuantity(lineID, quantity)
	c.mu.Unlock()

	body := map[string]int64{"quantity": quantity}
	var line Line
	status, kind, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/cart/%d", lineID), body, &line)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.degraded = true
		l := c.findLine(lineID)
		return MutationResult{Success: false, Degraded: true, Kind: ErrorStorageUnavailable, Line: l}
	}
	if status != http.StatusOK {
		c.lines = snapshot
		return MutationResult{Kind: kind}
	}

	c.adoptLine(lineID, line)
	return MutationResult{Success: true, Line: &line}
}

// RemoveFromCart は明細を取り除く。サーバ側は二重削除を許容する。
func (c *Client) RemoveFromCart(ctx context.Context, lineID int64) MutationResult {
	c.mu.Lock()
	snapshot := c.snapshot()
	c.applyRemove(lineID)
	c.mu.Unlock()

	status, kind, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/cart/%d", lineID), nil, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.degraded = true
		return MutationResult{Success: false, Degraded: true, Kind: ErrorStorageUnavailable}
	}
	if status != http.StatusNoContent {
		c.lines = snapshot
		return MutationResult{Kind: kind}
	}

	return MutationResult{Success: true}
}

// Clear はカートを空にする。
func (c *Client) Clear(ctx context.Context) MutationResult {
	c.mu.Lock()
	snapshot := c.snapshot()
	c.lines = nil
	c.mu.Unlock()

	status, kind, err := c.do(ctx, http.MethodDelete, "/cart", nil, nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.degraded = true
		return MutationResult{Success: false, Degraded: true, Kind: ErrorStorageUnavailable}
	}
	if status != http.StatusNoContent {
		c.lines = snapshot
		return MutationResult{Kind: kind}
	}

	return MutationResult{Success: true}
}

// Checkout は楽観更新しない。サーバの注文確定なしに成功を返すことはない。
func (c *Client) Checkout(ctx context.Context, addr ShippingAddress, paymentMethod string, idempotencyKey string) CheckoutResult {
	body := struct {
		ShippingAddress ShippingAddress `json:"shipping_address"`
		PaymentMethod   string          `json:"payment_method"`
		TotalAmount     int64           `json:"total_amount"`
	}{
		ShippingAddress: addr,
		PaymentMethod:   paymentMethod,
		TotalAmount:     c.TotalPrice(),
	}

	var order Order
	status, kind, err := c.doWithHeader(ctx, http.MethodPost, "/checkout", body, &order, map[string]string{
		"Idempotency-Key": idempotencyKey,
	})
	if err != nil {
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		return CheckoutResult{Kind: ErrorStorageUnavailable}
	}
	if status != http.StatusCreated {
		return CheckoutResult{Kind: kind}
	}

	//注文確定後、カートはサーバ側で空になっている
	c.mu.Lock()
	c.lines = nil
	c.degraded = false
	c.mu.Unlock()

	return CheckoutResult{Success: true, Order: &order}
}

// 内部ヘルパ。呼び出し側がc.muを保持していること。

func (c *Client) snapshot() []Line {
	s := make([]Line, len(c.lines))
	copy(s, c.lines)
	return s
}

func (c *Client) findLine(lineID int64) *Line {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			l := c.lines[i]
			return &l
		}
	}
	return nil
}

func (c *Client) applyAdd(productID int64, quantity int64, name string, price int64) int64 {
	//同一商品はマージ（数量加算）
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Quantity += quantity
			return c.lines[i].ID
		}
	}

	id := c.nextTempID
	c.nextTempID--
	c.lines = append(c.lines, Line{
		ID:        id,
		ProductID: productID,
		Name:      name,
		Price:     price,
		Quantity:  quantity,
	})
	return id
}

func (c *Client) applyQuantity(lineID int64, quantity int64) {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			c.lines[i].Quantity = quantity
			return
		}
	}
}

func (c *Client) applyRemove(lineID int64) {
	for i := range c.lines {
		if c.lines[i].ID == lineID {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return
		}
	}
}

// adoptLine は楽観行をサーバ確定行で置き換える（仮IDを採番済みIDへ）。
func (c *Client) adoptLine(localID int64, authoritative Line) {
	for i := range c.lines {
		if c.lines[i].ID == localID {
			c.lines[i] = authoritative
			return
		}
	}
	c.lines = append(c.lines, authoritative)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) (int, ErrorKind, error) {
	return c.doWithHeader(ctx, method, path, body, out, nil)
}

func (c *Client) doWithHeader(ctx context.Context, method, path string, body interface{}, out interface{}, headers map[string]string) (int, ErrorKind, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, ErrorBadRequest, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, ErrorBadRequest, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, ErrorStorageUnavailable, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, ErrorStorageUnavailable, err
	}

	if resp.StatusCode >= 400 {
		return resp.StatusCode, kindFromResponse(resp.StatusCode, data), nil
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, ErrorBadRequest, err
		}
	}
	return resp.StatusCode, ErrorNone, nil
}

// kindFromResponse はサーバのcodeフィールドをErrorKindへ写す。
// codeが無い応答はHTTPステータスから推定する。
func kindFromResponse(status int, body []byte) ErrorKind {
	var e struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		return ErrorKind(e.Code)
	}

	switch status {
	case http.StatusUnauthorized:
		return ErrorUnauthorized
	case http.StatusNotFound:
		return ErrorLineNotFound
	case http.StatusPaymentRequired:
		return ErrorPaymentFailed
	case http.StatusInternalServerError:
		return ErrorStorageUnavailable
	default:
		return ErrorBadRequest
	}
}
