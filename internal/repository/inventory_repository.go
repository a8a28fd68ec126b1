package repository

import "context"

type InventoryRepository interface {
	// 在庫が足りるときだけ減算。足りなければ false（マイナス在庫は作らない）。
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（補償用）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error
}
