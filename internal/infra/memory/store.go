package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// Store はフラットファイル/インメモリのデータ層。
// 全mutationはmuで直列化する（ユーザー単位の排他もこれで満たす）。
// pathが空ならメモリのみ、指定があればJSONファイルへ永続化する。
type Store struct {
	mu sync.RWMutex

	carts      map[int64]model.Cart
	cartItems  map[int64]model.CartItem
	products   map[int64]model.Product
	orders     map[int64]model.Order
	orderItems map[int64][]model.OrderItem

	nextCartID      int64
	nextCartItemID  int64
	nextOrderID     int64
	nextOrderItemID int64

	path string
}

// ファイルに書くスナップショット形
type storeFile struct {
	Carts      []model.Cart      `json:"carts"`
	CartItems  []model.CartItem  `json:"cart_items"`
	Products   []model.Product   `json:"products"`
	Orders     []model.Order     `json:"orders"`
	OrderItems []model.OrderItem `json:"order_items"`

	NextCartID      int64 `json:"next_cart_id"`
	NextCartItemID  int64 `json:"next_cart_item_id"`
	NextOrderID     int64 `json:"next_order_id"`
	NextOrderItemID int64 `json:"next_order_item_id"`
}

func NewStore() *Store {
	return &Store{
		carts:      make(map[int64]model.Cart),
		cartItems:  make(map[int64]model.CartItem),
		products:   make(map[int64]model.Product),
		orders:     make(map[int64]model.Order),
		orderItems: make(map[int64][]model.OrderItem),

		nextCartID:      1,
		nextCartItemID:  1,
		nextOrderID:     1000,
		nextOrderItemID: 1,
	}
}

// NewFileStore はJSONファイルから読み込む。無ければ空で始める。
func NewFileStore(path string) (*Store, error) {
	s := NewStore()
	s.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}

	for _, c := range f.Carts {
		s.carts[c.ID] = c
	}
	for _, it := range f.CartItems {
		s.cartItems[it.ID] = it
	}
	for _, p := range f.Products {
		s.products[p.ID] = p
	}
	for _, o := range f.Orders {
		s.orders[o.ID] = o
	}
	for _, it := range f.OrderItems {
		s.orderItems[it.OrderID] = append(s.orderItems[it.OrderID], it)
	}

	s.nextCartID = f.NextCartID
	s.nextCartItemID = f.NextCartItemID
	s.nextOrderID = f.NextOrderID
	s.nextOrderItemID = f.NextOrderItemID
	return s, nil
}

// PutProduct は商品を登録/上書きする（カタログ同期・テスト用）。
func (s *Store) PutProduct(p model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	s.save()
}

// ---- 以下はロック保持前提の内部処理 ----

// muを保持した状態でファイルへ書く。pathが空なら何もしない。
func (s *Store) save() {
	if s.path == "" {
		return
	}

	f := storeFile{
		NextCartID:      s.nextCartID,
		NextCartItemID:  s.nextCartItemID,
		NextOrderID:     s.nextOrderID,
		NextOrderItemID: s.nextOrderItemID,
	}
	for _, c := range s.carts {
		f.Carts = append(f.Carts, c)
	}
	for _, it := range s.cartItems {
		f.CartItems = append(f.CartItems, it)
	}
	for _, p := range s.products {
		f.Products = append(f.Products, p)
	}
	for _, o := range s.orders {
		f.Orders = append(f.Orders, o)
	}
	for _, items := range s.orderItems {
		f.OrderItems = append(f.OrderItems, items...)
	}

	data, err := json.MarshalIndent(f, "", "\t")
	if err != nil {
		return
	}

	//書き込み途中のファイルを読ませないよう一時ファイル経由
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}

type snapshot struct {
	carts      map[int64]model.Cart
	cartItems  map[int64]model.CartItem
	products   map[int64]model.Product
	orders     map[int64]model.Order
	orderItems map[int64][]model.OrderItem

	nextCartID      int64
	nextCartItemID  int64
	nextOrderID     int64
	nextOrderItemID int64
}

func (s *Store) takeSnapshot() snapshot {
	snap := snapshot{
		carts:      make(map[int64]model.Cart, len(s.carts)),
		cartItems:  make(map[int64]model.CartItem, len(s.cartItems)),
		products:   make(map[int64]model.Product, len(s.products)),
		orders:     make(map[int64]model.Order, len(s.orders)),
		orderItems: make(map[int64][]model.OrderItem, len(s.orderItems)),

		nextCartID:      s.nextCartID,
		nextCartItemID:  s.nextCartItemID,
		nextOrderID:     s.nextOrderID,
		nextOrderItemID: s.nextOrderItemID,
	}
	for k, v := range s.carts {
		snap.carts[k] = v
	}
	for k, v := range s.cartItems {
		snap.cartItems[k] = v
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	for k, v := range s.orderItems {
		items := make([]model.OrderItem, len(v))
		copy(items, v)
		snap.orderItems[k] = items
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.carts = snap.carts
	s.cartItems = snap.cartItems
	s.products = snap.products
	s.orders = snap.orders
	s.orderItems = snap.orderItems

	s.nextCartID = snap.nextCartID
	s.nextCartItemID = snap.nextCartItemID
	s.nextOrderID = snap.nextOrderID
	s.nextOrderItemID = snap.nextOrderItemID
}

func (s *Store) getOrCreateActiveCart(userID int64) model.Cart {
	if c, ok := s.findActiveCart(userID); ok {
		return c
	}

	now := time.Now()
	c := model.Cart{
		ID:        s.nextCartID,
		UserID:    userID,
		Status:    model.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.nextCartID++
	s.carts[c.ID] = c
	return c
}

func (s *Store) findActiveCart(userID int64) (model.Cart, bool) {
	var found model.Cart
	var ok bool
	for _, c := range s.carts {
		if c.UserID == userID && c.Status == model.CartStatusActive {
			//同率なら新しいカートを採用
			if !ok || c.ID > found.ID {
				found = c
				ok = true
			}
		}
	}
	return found, ok
}

func (s *Store) setCartStatus(cartID int64, status model.CartStatus) error {
	c, ok := s.carts[cartID]
	if !ok {
		return repo.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	s.carts[cartID] = c
	return nil
}

func (s *Store) clearCart(cartID int64) {
	for id, it := range s.cartItems {
		if it.CartID == cartID {
			delete(s.cartItems, id)
		}
	}
}

// 挿入順＝ID昇順で返す
func (s *Store) listCartItems(cartID int64) []model.CartItem {
	items := make([]model.CartItem, 0)
	for _, it := range s.cartItems {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (s *Store) upsertCartItem(cartID int64, productID int64, addQty int64, snap int64) model.CartItem {
	for id, it := range s.cartItems {
		if it.CartID == cartID && it.ProductID == productID {
			it.Quantity += addQty
			it.UpdatedAt = time.Now()
			s.cartItems[id] = it
			return it
		}
	}

	now := time.Now()
	it := model.CartItem{
		ID:                s.nextCartItemID,
		CartID:            cartID,
		ProductID:         productID,
		Quantity:          addQty,
		UnitPriceSnapshot: snap,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.nextCartItemID++
	s.cartItems[it.ID] = it
	return it
}

func (s *Store) updateCartItemQty(cartItemID int64, qty int64) error {
	it, ok := s.cartItems[cartItemID]
	if !ok {
		return repo.ErrNotFound
	}
	it.Quantity = qty
	it.UpdatedAt = time.Now()
	s.cartItems[cartItemID] = it
	return nil
}

func (s *Store) deleteCartItem(cartItemID int64) error {
	if _, ok := s.cartItems[cartItemID]; !ok {
		return repo.ErrNotFound
	}
	delete(s.cartItems, cartItemID)
	return nil
}

func (s *Store) isItemOwnedBy(cartItemID int64, userID int64) bool {
	it, ok := s.cartItems[cartItemID]
	if !ok {
		return false
	}
	c, ok := s.carts[it.CartID]
	return ok && c.UserID == userID
}

func (s *Store) listProducts(q repo.ProductListQuery) ([]model.Product, int64) {
	all := make([]model.Product, 0)
	needle := strings.ToLower(strings.TrimSpace(q.Q))
	for _, p := range s.products {
		if !p.IsActive {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Name), needle) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := int64(len(all))
	offset := (q.Page - 1) * q.Limit
	if offset >= len(all) {
		return []model.Product{}, total
	}
	end := offset + q.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total
}

func (s *Store) decreaseStockIfEnough(productID int64, qty int64) (bool, error) {
	p, ok := s.products[productID]
	if !ok {
		return false, nil
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now()
	s.products[productID] = p
	return true, nil
}

func (s *Store) increaseStock(productID int64, qty int64) error {
	p, ok := s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	p.Stock += qty
	p.UpdatedAt = time.Now()
	s.products[productID] = p
	return nil
}

func (s *Store) createOrder(o model.Order) int64 {
	o.ID = s.nextOrderID
	s.nextOrderID++
	s.orders[o.ID] = o
	return o.ID
}

func (s *Store) updateOrderStatus(orderID int64, status model.OrderStatus) error {
	o, ok := s.orders[orderID]
	if !ok {
		return repo.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	s.orders[orderID] = o
	return nil
}

func (s *Store) listOrdersByUser(userID int64, page int, limit int) ([]model.Order, int64) {
	all := make([]model.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := int64(len(all))
	offset := (page - 1) * limit
	if offset >= len(all) {
		return []model.Order{}, total
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total
}

func (s *Store) findOrderByKey(userID int64, key string) (model.Order, bool) {
	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return o, true
		}
	}
	return model.Order{}, false
}

func (s *Store) createOrderItems(orderID int64, items []model.OrderItem) {
	for _, it := range items {
		it.ID = s.nextOrderItemID
		s.nextOrderItemID++
		it.OrderID = orderID
		s.orderItems[orderID] = append(s.orderItems[orderID], it)
	}
}

func (s *Store) listOrderItems(orderID int64) []model.OrderItem {
	src := s.orderItems[orderID]
	items := make([]model.OrderItem, len(src))
	copy(items, src)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}
