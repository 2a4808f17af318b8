package status

import "errors"

// validation
var (
	ErrInvalidRequest           = errors.New("request: invalid request")
	ErrEventNotOnSale           = errors.New("event: event is not on sale")
	ErrLotNotActive             = errors.New("lot: lot is not active")
	ErrLotMismatch              = errors.New("lot: ticket type does not belong to lot or event")
	ErrInsufficientAvailability = errors.New("ticket type: insufficient availability")
	ErrExceedsMaxPerPurchase    = errors.New("ticket type: quantity exceeds max per purchase")
	ErrMembershipRequired       = errors.New("event: membership required")
	ErrOutOfStock               = errors.New("product: out of stock")
	ErrInvalidTransition        = errors.New("order: invalid status transition")
)

// authorization
var (
	ErrUnauthorized = errors.New("auth: unauthenticated")
	ErrForbidden    = errors.New("auth: insufficient permission")
)

var ErrNotFound = errors.New("store: record not found")

// external dependencies
var (
	ErrGateway         = errors.New("payment: gateway failure")
	ErrFailedPayment   = errors.New("payment: payment failed")
	ErrPaymentNotFound = errors.New("payment: payment not found")
	ErrCircuitOpen     = errors.New("payment: circuit breaker is open")
)

// ErrOversold is raised when confirming a batch would push quantity_sold past
// total_quantity.
var ErrOversold = errors.New("ticket type: sold counter guard rejected increment")

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest, ErrEventNotOnSale, ErrLotNotActive, ErrLotMismatch,
		ErrInsufficientAvailability, ErrExceedsMaxPerPurchase, ErrMembershipRequired,
		ErrOutOfStock, ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
