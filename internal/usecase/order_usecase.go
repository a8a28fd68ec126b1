package usecase

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/payment"
	repo "app/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OrderUsecase はチェックアウトと注文参照の業務ロジック。
// 注文作成・在庫減算・カートクリアは1トランザクションで行い、
// 決済はコミット後に実行してstatusだけを更新する。
type OrderUsecase struct {
	tx         repo.TransactionManager
	gateway    payment.Gateway
	payTimeout time.Duration
}

func NewOrderUsecase(tx repo.TransactionManager, gateway payment.Gateway, payTimeout time.Duration) *OrderUsecase {
	return &OrderUsecase{
		tx:         tx,
		gateway:    gateway,
		payTimeout: payTimeout,
	}
}

type CheckoutInput struct {
	ShippingAddress model.ShippingAddress
	PaymentMethod   string
	IdempotencyKey  string

	// クライアントが計算した合計（参考値）。
	// サーバ計算が常に優先で、食い違いはログに残すだけ。
	ClientTotal *int64
}

type OrderItemOutput struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type OrderOutput struct {
	ID              int64                 `json:"id"`
	UserID          int64                 `json:"user_id"`
	Status          string                `json:"status"`
	TotalPrice      int64                 `json:"total_price"`
	PaymentMethod   string                `json:"payment_method"`
	ShippingAddress model.ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time             `json:"created_at"`
	Items           []OrderItemOutput     `json:"items"`
}

func (u *OrderUsecase) Checkout(ctx context.Context, userID int64, in CheckoutInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}

	method := strings.TrimSpace(in.PaymentMethod)
	if method == "" {
		method = "credit_card"
	}

	// 同じキーなら同じ注文。未指定ならサーバで採番。
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid idempotency_key")
	}

	shippingJSON, err := json.Marshal(in.ShippingAddress)
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid shipping_address")
	}

	var out OrderOutput
	var duplicate bool

	//注文作成・在庫減算・カートクリアはall-or-nothing
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return u.storageError(userID, "checkout", err)
		}
		if found {
			//既存注文を返す（決済もやり直さない）
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return u.storageError(userID, "checkout", err)
			}
			out = toOrderOutput(existing, items)
			duplicate = true
			return nil
		}

		//ACTIVEカート取得
		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusBadRequest, CodeEmptyCart, "cart empty")
		}
		if err != nil {
			return u.storageError(userID, "checkout", err)
		}

		cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return u.storageError(userID, "checkout", err)
		}
		if len(cartItems) == 0 {
			return NewHTTPError(http.StatusBadRequest, CodeEmptyCart, "cart empty")
		}

		//確定時点の価格で計算し、在庫も確定時に再チェックして減らす
		orderItems := make([]model.OrderItem, 0, len(cartItems))
		var total int64 = 0

		for _, ci := range cartItems {
			p, err := r.Products().FindByID(ctx, ci.ProductID)
			if err == repo.ErrNotFound {
				return NewHTTPError(http.StatusBadRequest, CodeProductNotFound, "product not found")
			}
			if err != nil {
				return u.storageError(userID, "checkout", err)
			}
			if !p.IsActive {
				return NewHTTPError(http.StatusBadRequest, CodeProductNotFound, "product not found")
			}

			//在庫減算（足りないなら false）
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, ci.ProductID, ci.Quantity)
			if err != nil {
				return u.storageError(userID, "checkout", err)
			}
			if !ok {
				return NewHTTPError(http.StatusBadRequest, CodeInsufficientStock, "out of stock")
			}

			//単価はサーバ側の現在価格が正
			lineTotal := p.Price * ci.Quantity
			now := time.Now()
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           ci.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            ci.Quantity,
				LineTotal:           lineTotal,
				CreatedAt:           now,
			})

			total += lineTotal
		}

		if in.ClientTotal != nil && *in.ClientTotal != total {
			log.Warn().
				Int64("user_id", userID).
				Int64("client_total", *in.ClientTotal).
				Int64("server_total", total).
				Msg("checkout: ignoring client-supplied total")
		}

		now := time.Now()
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:         userID,
			Status:         model.OrderStatusPending,
			TotalPrice:     total,
			PaymentMethod:  method,
			ShippingJSON:   string(shippingJSON),
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		if err != nil {
			//同時に同じキーが入った等。もう一回検索して同じ結果を返す。
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return u.storageError(userID, "checkout", err3)
				}
				out = toOrderOutput(ex2, items2)
				duplicate = true
				return nil
			}
			return NewHTTPError(http.StatusConflict, CodeBadRequest, "idempotency conflict")
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return u.storageError(userID, "checkout", err)
		}

		//カートをCHECKED_OUTにして明細をクリア（再注文防止）
		if err := r.Carts().UpdateStatus(ctx, cart.ID, model.CartStatusCheckedOut); err != nil {
			return u.storageError(userID, "checkout", err)
		}
		if err := r.Carts().Clear(ctx, cart.ID); err != nil {
			return u.storageError(userID, "checkout", err)
		}

		for i := range orderItems {
			orderItems[i].OrderID = orderID
		}
		out = toOrderOutput(model.Order{
			ID:            orderID,
			UserID:        userID,
			Status:        model.OrderStatusPending,
			TotalPrice:    total,
			PaymentMethod: method,
			ShippingJSON:  string(shippingJSON),
			CreatedAt:     now,
		}, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	if duplicate {
		return out, nil
	}

	//決済はコミット後。失敗・タイムアウトは注文をfailedにするだけで、
	//在庫とカートは巻き戻さない。
	payCtx, cancel := context.WithTimeout(ctx, u.payTimeout)
	defer cancel()

	if payErr := u.gateway.Charge(payCtx, out.ID, out.TotalPrice, method); payErr != nil {
		log.Error().Err(payErr).
			Int64("user_id", userID).
			Int64("order_id", out.ID).
			Str("op", "checkout").
			Msg("payment failed")

		if err := u.updateStatus(ctx, out.ID, model.OrderStatusFailed); err != nil {
			return OrderOutput{}, err
		}
		return OrderOutput{}, NewHTTPError(http.StatusPaymentRequired, CodePaymentFailed, "payment failed")
	}

	if err := u.updateStatus(ctx, out.ID, model.OrderStatusCompleted); err != nil {
		return OrderOutput{}, err
	}
	out.Status = string(model.OrderStatusCompleted)

	log.Info().
		Int64("user_id", userID).
		Int64("order_id", out.ID).
		Int64("total", out.TotalPrice).
		Msg("checkout completed")

	return out, nil
}

func (u *OrderUsecase) updateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Orders().UpdateStatus(ctx, orderID, status)
	})
	if err != nil {
		log.Error().Err(err).
			Int64("order_id", orderID).
			Str("status", string(status)).
			Msg("checkout: failed to update order status")
		return NewHTTPError(http.StatusInternalServerError, CodeStorageUnavailable, "storage unavailable")
	}
	return nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return u.storageError(userID, "list_orders", err)
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return u.storageError(userID, "list_orders", err)
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, CodeBadRequest, "invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if err == repo.ErrNotFound {
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}
		if err != nil {
			return u.storageError(userID, "get_order", err)
		}
		if o.UserID != userID {
			//他人の注文は「存在しない扱い」にする
			return NewHTTPError(http.StatusNotFound, CodeNotFound, "not found")
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return u.storageError(userID, "get_order", err)
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func (u *OrderUsecase) storageError(userID int64, op string, err error) error {
	log.Error().Err(err).Int64("user_id", userID).Str("op", op).Msg("order: storage error")
	return NewHTTPError(http.StatusInternalServerError, CodeStorageUnavailable, "storage unavailable")
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ProductID: it.ProductID,
			Name:      it.ProductNameSnapshot,
			Price:     it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}

	var addr model.ShippingAddress
	if o.ShippingJSON != "" {
		//壊れたJSONは空のまま返す
		_ = json.Unmarshal([]byte(o.ShippingJSON), &addr)
	}

	return OrderOutput{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		TotalPrice:      o.TotalPrice,
		PaymentMethod:   o.PaymentMethod,
		ShippingAddress: addr,
		CreatedAt:       o.CreatedAt,
		Items:           outItems,
	}
}
