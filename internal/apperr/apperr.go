// Package apperr is the error taxonomy of the financial core.
//
// Business failures (insufficient funds, self purchase, ...) are terminal and
// carry a message that is safe to show to the caller. LockTimeout and
// StorageFailure are retryable: every ledger operation is keyed by a
// reference id, so running it again can never apply money twice.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeSelfPurchase         Code = "SELF_PURCHASE"
	CodeSelfSubscription     Code = "SELF_SUBSCRIPTION"
	CodeAlreadyPurchased     Code = "ALREADY_PURCHASED"
	CodeAlreadySubscribed    Code = "ALREADY_SUBSCRIBED"
	CodeContentNotFound      Code = "CONTENT_NOT_FOUND"
	CodeTipsterNotFound      Code = "TIPSTER_NOT_FOUND"
	CodeSubscriptionNotFound Code = "SUBSCRIPTION_NOT_FOUND"
	CodeInvalidAmount        Code = "INVALID_AMOUNT"
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeLockTimeout          Code = "LOCK_TIMEOUT"
	CodeStorageFailure       Code = "STORAGE_FAILURE"
)

// GenericMessage is what callers see for anything transient or unexpected.
const GenericMessage = "operation could not be completed, try again"

type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so that wrapped instances compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e that records cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Withf returns a copy of e with a more specific message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

var (
	ErrInsufficientFunds    = &Error{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrSelfPurchase         = &Error{Code: CodeSelfPurchase, Message: "you cannot buy your own ticket"}
	ErrSelfSubscription     = &Error{Code: CodeSelfSubscription, Message: "you cannot subscribe to yourself"}
	ErrAlreadyPurchased     = &Error{Code: CodeAlreadyPurchased, Message: "ticket already purchased"}
	ErrAlreadySubscribed    = &Error{Code: CodeAlreadySubscribed, Message: "already subscribed to this tipster"}
	ErrContentNotFound      = &Error{Code: CodeContentNotFound, Message: "ticket not found"}
	ErrTipsterNotFound      = &Error{Code: CodeTipsterNotFound, Message: "tipster not found"}
	ErrSubscriptionNotFound = &Error{Code: CodeSubscriptionNotFound, Message: "no active subscription"}
	ErrInvalidAmount        = &Error{Code: CodeInvalidAmount, Message: "invalid amount"}
	ErrInvalidRequest       = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrLockTimeout          = &Error{Code: CodeLockTimeout, Message: "wallet is busy", Retryable: true}
	ErrStorageFailure       = &Error{Code: CodeStorageFailure, Message: "storage failure", Retryable: true}
)

// IsRetryable reports whether err is transient and safe to run again.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf returns the taxonomy code of err, or CodeStorageFailure for errors
// that did not come from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorageFailure
}

// PublicMessage returns a message that never leaks lock or storage detail.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Retryable {
		return GenericMessage
	}
	return e.Message
}
