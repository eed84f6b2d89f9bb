package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrEmptyOrder     = errors.New("order has no items")
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InvalidTransitionError names the rejected edge. Out-of-order requests
// fail loudly; they are never silently ignored.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
