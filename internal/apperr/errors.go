package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of the component that raised it
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindAlreadyProcessed
	KindInsufficientResource
	KindInvalidState
	KindInvalidRequest
	KindUnavailable
	KindUpstream
)

var kindNames = map[Kind]string{
	KindInternal:             "internal",
	KindNotFound:             "not_found",
	KindAlreadyExists:        "already_exists",
	KindAlreadyProcessed:     "already_processed",
	KindInsufficientResource: "insufficient_resource",
	KindInvalidState:         "invalid_state",
	KindInvalidRequest:       "invalid_request",
	KindUnavailable:          "unavailable",
	KindUpstream:             "upstream_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Machine-readable codes returned in error bodies
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInternal                = "internal_error"
	CodeInventoryNotFound       = "inventory_not_found"
	CodeInventoryAlreadyExists  = "inventory_already_exists"
	CodeQuantityBelowReserved   = "quantity_below_reserved"
	CodeInsufficientInventory   = "insufficient_inventory"
	CodeProductNotFound         = "product_not_found"
	CodeProductNotStocked       = "product_not_stocked"
	CodeReservationNotFound     = "reservation_not_found"
	CodeInvalidReservationState = "invalid_reservation_state"
	CodeOrderNotFound           = "order_not_found"
	CodeInvalidOrderState       = "invalid_order_state"
	CodePaymentAlreadyProcessed = "payment_already_processed"
	CodePaymentNotFound         = "payment_not_found"
	CodeInvalidRefundState      = "invalid_refund_state"
	CodeInvalidPaymentState     = "invalid_payment_state"
	CodeDuplicateRequest        = "duplicate_request"
	CodeServiceUnavailable      = "service_unavailable"
	CodeUpstreamError           = "upstream_error"
	CodeProductFetchError       = "product_fetch_error"
)

// codeKinds lets HTTP clients rebuild the kind of a remote failure from its code
var codeKinds = map[string]Kind{
	CodeInvalidRequest:          KindInvalidRequest,
	CodeInternal:                KindInternal,
	CodeInventoryNotFound:       KindNotFound,
	CodeInventoryAlreadyExists:  KindAlreadyExists,
	CodeQuantityBelowReserved:   KindInvalidRequest,
	CodeInsufficientInventory:   KindInsufficientResource,
	CodeProductNotFound:         KindNotFound,
	CodeProductNotStocked:       KindInsufficientResource,
	CodeReservationNotFound:     KindNotFound,
	CodeInvalidReservationState: KindInvalidState,
	CodeOrderNotFound:           KindNotFound,
	CodeInvalidOrderState:       KindInvalidState,
	CodePaymentAlreadyProcessed: KindAlreadyProcessed,
	CodePaymentNotFound:         KindNotFound,
	CodeInvalidRefundState:      KindInvalidState,
	CodeInvalidPaymentState:     KindInvalidState,
	CodeDuplicateRequest:        KindAlreadyProcessed,
	CodeServiceUnavailable:      KindUnavailable,
	CodeUpstreamError:           KindUpstream,
	CodeProductFetchError:       KindUpstream,
}

// Error is the structured error shared by all components
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind and code
func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind that keeps err as its cause
func Wrap(err error, kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetails attaches a payload that is rendered next to the code
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// NotFound creates a KindNotFound error
func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

// InvalidRequest creates a KindInvalidRequest error with code invalid_request
func InvalidRequest(format string, args ...interface{}) *Error {
	return New(KindInvalidRequest, CodeInvalidRequest, format, args...)
}

// InvalidState creates a KindInvalidState error
func InvalidState(code, format string, args ...interface{}) *Error {
	return New(KindInvalidState, code, format, args...)
}

// FromCode rebuilds an error received over the wire. Unknown codes become upstream errors.
func FromCode(code, message string) *Error {
	kind, ok := codeKinds[code]
	if !ok {
		kind = KindUpstream
		if code == "" {
			code = CodeUpstreamError
		}
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// CodeOf returns the machine code of err, or internal_error
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeInternal
}

// DetailsOf returns the details payload of err, if any
func DetailsOf(err error) interface{} {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Details
	}
	return nil
}

// HTTPStatus maps an error to the status code used by the HTTP surfaces
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindAlreadyProcessed, KindInsufficientResource,
		KindInvalidState, KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Permanent reports whether retrying the failed call cannot succeed
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidState, KindInvalidRequest, KindAlreadyExists:
		return true
	default:
		return false
	}
}
