package usecase

import (
	"context"
	"net/http"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/rs/zerolog/log"
)

// CartUsecase は /cart の業務ロジック。
// 同一商品の追加は数量加算（merge-by-product）で吸収する。
type CartUsecase struct {
	cartRepo     repo.CartRepository
	cartItemRepo repo.CartItemRepository
	productRepo  repo.ProductRepository
}

func NewCartUsecase(
	cartRepo repo.CartRepository,
	cartItemRepo repo.CartItemRepository,
	productRepo repo.ProductRepository,
) *CartUsecase {
	return &CartUsecase{
		cartRepo:     cartRepo,
		cartItemRepo: cartItemRepo,
		productRepo:  productRepo,
	}
}

// price は unit_price_snapshot（追加時点の価格）を返す。
type CartLineResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

type CartResponse struct {
	Items []CartLineResponse `json:"items"`
	Total int64              `json:"total"`
}

type AddCartInput struct {
	ProductID int64
	Quantity  int64
}

type UpdateCartItemInput struct {
	Quantity int64
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartResponse{}, u.storageError(userID, "get_cart", err)
	}

	return u.buildCartResponse(ctx, userID, cart.ID)
}

// AddToCart はカートに追加（同一商品は数量加算）。マージ後の明細を返す。
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (CartLineResponse, error) {
	if userID <= 0 {
		return CartLineResponse{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}
	if in.ProductID <= 0 {
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 {
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeInvalidQuantity, "invalid quantity")
	}

	// ACTIVEカート取得（無ければ作成）
	cart, err := u.cartRepo.GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "add_to_cart", err)
	}

	// 商品チェック（公開のみ）
	p, err := u.productRepo.FindByID(ctx, in.ProductID)
	if err == repo.ErrNotFound {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeProductNotFound, "product not found")
	}
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "add_to_cart", err)
	}
	if !p.IsActive {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeProductNotFound, "product not found")
	}

	// 加算後の数量が在庫を超えないか
	items, err := u.cartItemRepo.ListByCartID(ctx, cart.ID)
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "add_to_cart", err)
	}

	var existingQty int64 = 0
	for _, it := range items {
		if it.ProductID == in.ProductID {
			existingQty = it.Quantity
			break
		}
	}

	if existingQty+in.Quantity > p.Stock {
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeInsufficientStock, "stock exceeded")
	}

	// Upsert（同一商品は加算）。unit_price_snapshotは追加時点の価格。
	merged, err := u.cartItemRepo.UpsertByCartAndProduct(ctx, cart.ID, in.ProductID, in.Quantity, p.Price)
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "add_to_cart", err)
	}

	return toCartLineResponse(merged, p), nil
}

// 数量変更（所有チェック＋在庫チェック）。更新後の明細を返す。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (CartLineResponse, error) {
	if userID <= 0 {
		return CartLineResponse{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid id")
	}
	if in.Quantity < 1 {
		//0以下にしたいときはDELETEを使う
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeInvalidQuantity, "invalid quantity")
	}

	owned, err := u.cartItemRepo.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "update_cart_item", err)
	}
	if !owned {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeLineNotFound, "not found")
	}

	item, err := u.cartItemRepo.FindByID(ctx, cartItemID)
	if err == repo.ErrNotFound {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeLineNotFound, "not found")
	}
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "update_cart_item", err)
	}

	//商品の在庫チェック
	p, err := u.productRepo.FindByID(ctx, item.ProductID)
	if err == repo.ErrNotFound {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeProductNotFound, "product not found")
	}
	if err != nil {
		return CartLineResponse{}, u.storageError(userID, "update_cart_item", err)
	}
	if !p.IsActive {
		return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeProductNotFound, "product not found")
	}
	if in.Quantity > p.Stock {
		return CartLineResponse{}, NewHTTPError(http.StatusBadRequest, CodeInsufficientStock, "stock exceeded")
	}

	if err := u.cartItemRepo.UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
		if err == repo.ErrNotFound {
			return CartLineResponse{}, NewHTTPError(http.StatusNotFound, CodeLineNotFound, "not found")
		}
		return CartLineResponse{}, u.storageError(userID, "update_cart_item", err)
	}

	item.Quantity = in.Quantity
	return toCartLineResponse(item, p), nil
}

// 明細削除。無い明細の削除はエラーにしない（冪等）。
func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid id")
	}

	owned, err := u.cartItemRepo.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return u.storageError(userID, "delete_cart_item", err)
	}
	if !owned {
		//存在しない・他人の明細はすでに無い扱い
		return nil
	}

	if err := u.cartItemRepo.DeleteByID(ctx, cartItemID); err != nil {
		if err == repo.ErrNotFound {
			return nil
		}
		return u.storageError(userID, "delete_cart_item", err)
	}

	return nil
}

// カートを空にする（冪等）。
func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}

	cart, err := u.cartRepo.FindActiveByUserID(ctx, userID)
	if err == repo.ErrNotFound {
		//カート自体が無ければ空にする対象も無い
		return nil
	}
	if err != nil {
		return u.storageError(userID, "clear_cart", err)
	}

	if err := u.cartRepo.Clear(ctx, cart.ID); err != nil {
		return u.storageError(userID, "clear_cart", err)
	}

	return nil
}

// cartIDの明細をまとめてCartResponseを作る。
// 商品が消えている・非公開の明細は表示から落とす。
func (u *CartUsecase) buildCartResponse(ctx context.Context, userID int64, cartID int64) (CartResponse, error) {
	items, err := u.cartItemRepo.ListByCartID(ctx, cartID)
	if err != nil {
		return CartResponse{}, u.storageError(userID, "get_cart", err)
	}

	respItems := make([]CartLineResponse, 0, len(items))
	var total int64 = 0

	for _, it := range items {
		p, err := u.productRepo.FindByID(ctx, it.ProductID)
		if err != nil {
			continue
		}
		if !p.IsActive {
			continue
		}

		respItems = append(respItems, toCartLineResponse(it, p))
		total += it.UnitPriceSnapshot * it.Quantity
	}

	return CartResponse{Items: respItems, Total: total}, nil
}

func (u *CartUsecase) storageError(userID int64, op string, err error) error {
	log.Error().Err(err).Int64("user_id", userID).Str("op", op).Msg("cart: storage error")
	return NewHTTPError(http.StatusInternalServerError, CodeStorageUnavailable, "storage unavailable")
}

func toCartLineResponse(it model.CartItem, p model.Product) CartLineResponse {
	return CartLineResponse{
		ID:        it.ID,
		ProductID: it.ProductID,
		Name:      p.Name,
		Price:     it.UnitPriceSnapshot,
		Quantity:  it.Quantity,
	}
}
