package memory

import (
	"context"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// ストア直結のrepository実装。
// 公開メソッドはストアのロックを取り、mutationはファイルにも反映する。
// Tx内（ロック保持中）はlockedをtrueにした実装を使う。

type CartMemoryRepository struct {
	s      *Store
	locked bool
}

func NewCartMemoryRepository(s *Store) *CartMemoryRepository {
	return &CartMemoryRepository{s: s}
}

func (r *CartMemoryRepository) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.getOrCreateActiveCart(userID), nil
}

func (r *CartMemoryRepository) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	c, ok := r.s.findActiveCart(userID)
	if !ok {
		return model.Cart{}, repo.ErrNotFound
	}
	return c, nil
}

func (r *CartMemoryRepository) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.setCartStatus(cartID, status)
}

func (r *CartMemoryRepository) Clear(ctx context.Context, cartID int64) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	r.s.clearCart(cartID)
	return nil
}

func (r *CartMemoryRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	return r.s.listCartItems(cartID), nil
}

func (r *CartMemoryRepository) UpsertByCartAndProduct(ctx context.Context, cartID int64, productID int64, addQty int64, unitPriceSnapshot int64) (model.CartItem, error) {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.upsertCartItem(cartID, productID, addQty, unitPriceSnapshot), nil
}

func (r *CartMemoryRepository) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.updateCartItemQty(cartItemID, qty)
}

func (r *CartMemoryRepository) DeleteByID(ctx context.Context, cartItemID int64) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.deleteCartItem(cartItemID)
}

func (r *CartMemoryRepository) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	it, ok := r.s.cartItems[cartItemID]
	if !ok {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r *CartMemoryRepository) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	return r.s.isItemOwnedBy(cartItemID, userID), nil
}

type ProductMemoryRepository struct {
	s      *Store
	locked bool
}

func NewProductMemoryRepository(s *Store) *ProductMemoryRepository {
	return &ProductMemoryRepository{s: s}
}

func (r *ProductMemoryRepository) ListPublic(ctx context.Context, q repo.ProductListQuery) ([]model.Product, int64, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	items, total := r.s.listProducts(q)
	return items, total, nil
}

func (r *ProductMemoryRepository) FindByID(ctx context.Context, id int64) (model.Product, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	p, ok := r.s.products[id]
	if !ok {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

type InventoryMemoryRepository struct {
	s      *Store
	locked bool
}

func NewInventoryMemoryRepository(s *Store) *InventoryMemoryRepository {
	return &InventoryMemoryRepository{s: s}
}

func (r *InventoryMemoryRepository) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.decreaseStockIfEnough(productID, qty)
}

func (r *InventoryMemoryRepository) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.increaseStock(productID, qty)
}

type OrderMemoryRepository struct {
	s      *Store
	locked bool
}

func NewOrderMemoryRepository(s *Store) *OrderMemoryRepository {
	return &OrderMemoryRepository{s: s}
}

func (r *OrderMemoryRepository) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	o, ok := r.s.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r *OrderMemoryRepository) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	orders, total := r.s.listOrdersByUser(userID, page, limit)
	return orders, total, nil
}

func (r *OrderMemoryRepository) Create(ctx context.Context, order model.Order) (int64, error) {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.createOrder(order), nil
}

func (r *OrderMemoryRepository) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	return r.s.updateOrderStatus(orderID, status)
}

func (r *OrderMemoryRepository) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	o, ok := r.s.findOrderByKey(userID, key)
	return o, ok, nil
}

type OrderItemMemoryRepository struct {
	s      *Store
	locked bool
}

func NewOrderItemMemoryRepository(s *Store) *OrderItemMemoryRepository {
	return &OrderItemMemoryRepository{s: s}
}

func (r *OrderItemMemoryRepository) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if !r.locked {
		r.s.mu.Lock()
		defer r.s.mu.Unlock()
		defer r.s.save()
	}
	r.s.createOrderItems(orderID, items)
	return nil
}

func (r *OrderItemMemoryRepository) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	if !r.locked {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
	}
	return r.s.listOrderItems(orderID), nil
}
