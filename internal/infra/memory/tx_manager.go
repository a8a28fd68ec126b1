package memory

import (
	"context"

	repo "app/internal/repository"
)

type txReposMemory struct {
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	carts      repo.CartRepository
	cartItems  repo.CartItemRepository
	inventory  repo.InventoryRepository
	products   repo.ProductRepository
}

func (r *txReposMemory) Orders() repo.OrderRepository         { return r.orders }
func (r *txReposMemory) OrderItems() repo.OrderItemRepository { return r.orderItems }
func (r *txReposMemory) Carts() repo.CartRepository           { return r.carts }
func (r *txReposMemory) CartItems() repo.CartItemRepository   { return r.cartItems }
func (r *txReposMemory) Inventory() repo.InventoryRepository  { return r.inventory }
func (r *txReposMemory) Products() repo.ProductRepository     { return r.products }

// TxManagerMemory はストアの排他ロックを取り、
// 変更前のスナップショットを控えてからfnを実行する。
// fnがエラーならスナップショットへ巻き戻す（all-or-nothing）。
type TxManagerMemory struct {
	s *Store
}

func NewTxManagerMemory(s *Store) *TxManagerMemory {
	return &TxManagerMemory{s: s}
}

func (tm *TxManagerMemory) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	tm.s.mu.Lock()
	defer tm.s.mu.Unlock()

	snap := tm.s.takeSnapshot()

	//ロックは保持済みなのでlocked実装を渡す
	r := &txReposMemory{
		orders:     &OrderMemoryRepository{s: tm.s, locked: true},
		orderItems: &OrderItemMemoryRepository{s: tm.s, locked: true},
		carts:      &CartMemoryRepository{s: tm.s, locked: true},
		cartItems:  &CartMemoryRepository{s: tm.s, locked: true},
		inventory:  &InventoryMemoryRepository{s: tm.s, locked: true},
		products:   &ProductMemoryRepository{s: tm.s, locked: true},
	}

	if err := fn(r); err != nil {
		tm.s.restore(snap)
		return err
	}

	tm.s.save()
	return nil
}
