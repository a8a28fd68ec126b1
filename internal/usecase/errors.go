package usecase

import (
	"errors"
	"fmt"
)

// クライアントへ返すエラー種別。
// ログには内部エラーを残し、レスポンスにはcodeと短文だけを出す。
const (
	CodeUnauthorized       = "unauthorized"
	CodeInvalidQuantity    = "invalid_quantity"
	CodeLineNotFound       = "line_not_found"
	CodeEmptyCart          = "empty_cart"
	CodeProductNotFound    = "product_not_found"
	CodeInsufficientStock  = "insufficient_stock"
	CodePaymentFailed      = "payment_failed"
	CodeStorageUnavailable = "storage_unavailable"
	CodeBadRequest         = "bad_request"
	CodeNotFound           = "not_found"
)

type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func NewHTTPError(status int, code string, message string) error {
	return &HTTPError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}
