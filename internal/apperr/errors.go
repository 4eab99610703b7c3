package apperr

import "errors"

// ErrInvalid is returned when the input fails domain validation.
var ErrInvalid = errors.New("invalid input")

// ErrConflict indicates the order is already resolved or the response repeats one already recorded (HTTP 409).
var ErrConflict = errors.New("conflict")

// ErrNotFound indicates that the requested order or courier does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized marks a response from a courier that was never offered the order.
var ErrUnauthorized = errors.New("courier was not offered this order")

// ErrUnavailable wraps transient store or session failures; the caller may retry.
var ErrUnavailable = errors.New("temporarily unavailable")
