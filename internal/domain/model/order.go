package model

import "time"

type OrderStatus string

const (
	// チェックアウト開始時
	OrderStatusPending OrderStatus = "pending"
	// 決済成功後
	OrderStatusCompleted OrderStatus = "completed"
	// 決済失敗・タイムアウト後
	OrderStatusFailed OrderStatus = "failed"
)

// 配送先。注文作成時のスナップショットとしてJSONで保存する。
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// 注文。カートのスナップショットから一度だけ作られ、
// 以後はstatus以外は変更しない。
type Order struct {
	ID              int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64       `gorm:"not null;index" json:"user_id"`
	Status          OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalPrice      int64       `gorm:"not null" json:"total_price"`
	PaymentMethod   string      `gorm:"type:varchar(50);not null" json:"payment_method"`
	ShippingJSON    string      `gorm:"type:text;column:shipping_address" json:"-"`
	IdempotencyKey  string      `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`
	CreatedAt       time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
