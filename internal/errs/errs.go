package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindStateConflict  Kind = "STATE_CONFLICT"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindEligibility    Kind = "ELIGIBILITY"
	KindPaymentFailure Kind = "PAYMENT_FAILURE"
	KindIntegrity      Kind = "INTEGRITY"
	KindInternal       Kind = "INTERNAL"
)

// Code is the stable machine readable identifier returned to clients.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidCoordinates Code = "INVALID_COORDINATES"
	CodeInvalidReturnHub   Code = "INVALID_RETURN_HUB"

	CodeUserNotFound    Code = "USER_NOT_FOUND"
	CodeBikeNotFound    Code = "BIKE_NOT_FOUND"
	CodeRentalNotFound  Code = "RENTAL_NOT_FOUND"
	CodeStationNotFound Code = "STATION_NOT_FOUND"
	CodePaymentNotFound Code = "PAYMENT_NOT_FOUND"

	CodeBikeNotAvailable     Code = "BIKE_NOT_AVAILABLE"
	CodeBikeAlreadyLocked    Code = "BIKE_ALREADY_LOCKED"
	CodeBikeNotLocked        Code = "BIKE_NOT_LOCKED"
	CodeBikeNotInPause       Code = "BIKE_NOT_IN_PAUSE"
	CodeRentalNotInProgress  Code = "RENTAL_NOT_IN_PROGRESS"
	CodeAlreadyHiBike        Code = "ALREADY_HIBIKE"
	CodeNotHiBike            Code = "NOT_HIBIKE"
	CodePaymentNotRetryable  Code = "PAYMENT_NOT_RETRYABLE"
	CodeIllegalTransition    Code = "ILLEGAL_TRANSITION"
	CodeConcurrentChange     Code = "CONCURRENT_CHANGE"

	CodeRentalNotOwned  Code = "RENTAL_NOT_OWNED"
	CodePaymentNotOwned Code = "PAYMENT_NOT_OWNED"
	CodeUnauthenticated Code = "UNAUTHENTICATED"

	CodeLowBattery         Code = "LOW_BATTERY"
	CodeNoPaymentMethod    Code = "NO_PAYMENT_METHOD"
	CodeActiveRentalExists Code = "ACTIVE_RENTAL_EXISTS"
	CodeAccountLocked      Code = "ACCOUNT_LOCKED"
	CodeAccountSuspended   Code = "ACCOUNT_SUSPENDED"
	CodeAccountBlocked     Code = "ACCOUNT_BLOCKED"
	CodeAccountWithdrawn   Code = "ACCOUNT_WITHDRAWN"
	CodeInvalidCoupon      Code = "INVALID_COUPON"

	CodePaymentFailed Code = "PAYMENT_FAILED"

	CodeHiBikeRentalMissing Code = "HIBIKE_RENTAL_MISSING"

	CodeInternal Code = "INTERNAL"
)

// Error is a business error carrying a kind, a stable code and a message that is
// safe to show to the caller. Err holds the underlying cause, if any, and is
// never rendered to clients.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so errors.Is(err, errs.RentalNotFound) works for any
// instance carrying the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Wrap attaches a cause to a business error without changing its code.
func Wrap(e *Error, cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific message.
func WithMessage(e *Error, format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// Internal wraps an infrastructure failure.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: cause}
}

// CodeOf extracts the code of the first *Error in the chain, or "" when none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf extracts the kind of the first *Error in the chain. Unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client safe message.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

var (
	InvalidInput       = New(KindValidation, CodeInvalidInput, "invalid input value")
	InvalidCoordinates = New(KindValidation, CodeInvalidCoordinates, "latitude must be within [-90,90] and longitude within [-180,180]")
	InvalidReturnHub   = New(KindValidation, CodeInvalidReturnHub, "bike can only be returned to a station of its home hub")

	UserNotFound    = New(KindNotFound, CodeUserNotFound, "user not found")
	BikeNotFound    = New(KindNotFound, CodeBikeNotFound, "bike not found")
	RentalNotFound  = New(KindNotFound, CodeRentalNotFound, "rental not found")
	StationNotFound = New(KindNotFound, CodeStationNotFound, "station not found")
	PaymentNotFound = New(KindNotFound, CodePaymentNotFound, "payment not found")

	BikeNotAvailable    = New(KindStateConflict, CodeBikeNotAvailable, "bike is not available for rent")
	BikeAlreadyLocked   = New(KindStateConflict, CodeBikeAlreadyLocked, "bike is already locked")
	BikeNotLocked       = New(KindStateConflict, CodeBikeNotLocked, "bike is not temporarily locked")
	BikeNotInPause      = New(KindStateConflict, CodeBikeNotInPause, "rental is not paused")
	RentalNotInProgress = New(KindStateConflict, CodeRentalNotInProgress, "rental is not in progress")
	AlreadyHiBike       = New(KindStateConflict, CodeAlreadyHiBike, "bike is already a HiBike")
	NotHiBike           = New(KindStateConflict, CodeNotHiBike, "bike is not offered as a HiBike")
	PaymentNotRetryable = New(KindStateConflict, CodePaymentNotRetryable, "payment cannot be retried in its current state")
	IllegalTransition   = New(KindStateConflict, CodeIllegalTransition, "illegal state transition")
	ConcurrentChange    = New(KindStateConflict, CodeConcurrentChange, "resource was changed concurrently, retry the request")

	RentalNotOwned  = New(KindAuthorization, CodeRentalNotOwned, "rental does not belong to the caller")
	PaymentNotOwned = New(KindAuthorization, CodePaymentNotOwned, "payment does not belong to the caller")
	Unauthenticated = New(KindAuthorization, CodeUnauthenticated, "user not authenticated")

	LowBattery         = New(KindEligibility, CodeLowBattery, "bike battery is too low to rent")
	NoPaymentMethod    = New(KindEligibility, CodeNoPaymentMethod, "no active payment method registered")
	ActiveRentalExists = New(KindEligibility, CodeActiveRentalExists, "user already has an unfinished rental")
	AccountLocked      = New(KindEligibility, CodeAccountLocked, "account is locked")
	AccountSuspended   = New(KindEligibility, CodeAccountSuspended, "account is suspended")
	AccountBlocked     = New(KindEligibility, CodeAccountBlocked, "account is blocked")
	AccountWithdrawn   = New(KindEligibility, CodeAccountWithdrawn, "account is withdrawn")
	InvalidCoupon      = New(KindEligibility, CodeInvalidCoupon, "coupon is not usable")

	PaymentFailed = New(KindPaymentFailure, CodePaymentFailed, "payment processing failed")

	HiBikeRentalMissing = New(KindIntegrity, CodeHiBikeRentalMissing, "no open rental found for HiBike")
)
