package services

import (
	"errors"
	"fmt"
	"math"

	"gorm.io/gorm"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrForbidden            = errors.New("insufficient permissions")
	ErrConflict             = errors.New("conflict")
	ErrValidation           = errors.New("validation failed")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrSystemPermission     = errors.New("system permissions cannot be modified")
	ErrVoucherUsed          = errors.New("voucher already used")
	ErrVoucherInvalid       = errors.New("voucher is invalid, inactive or expired")
	ErrCannotCancel         = errors.New("subscription not found or cannot be cancelled")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrMessageLimit         = errors.New("message limit reached for current package")
	ErrDeviceLimit          = errors.New("device limit reached for current package")
	ErrGatewayUnavailable   = errors.New("whatsapp gateway unavailable")
	ErrPaymentUnavailable   = errors.New("payment provider unavailable")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// notFound maps gorm's missing-row error to ErrNotFound and leaves others untouched.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
