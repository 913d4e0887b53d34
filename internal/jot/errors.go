package jot

import (
	"context"
	"errors"
	"net"
)

// Code classifies the error conditions the sync engine raises or reacts
// to. Collaborators (targets, the store, the encryptor) attach codes so
// the orchestrator can match on them through wrap chains.
type Code string

const (
	CodeAlreadyStarted         Code = "alreadyStarted"
	CodeLockError              Code = "lockError"
	CodeSyncLockGone           Code = "syncLockGone"
	CodeHasExclusiveLock       Code = "hasExclusiveLock"
	CodeHasSyncLock            Code = "hasSyncLock"
	CodeOutdatedSyncTarget     Code = "outdatedSyncTarget"
	CodeProcessingPathTwice    Code = "processingPathTwice"
	CodeFailSafe               Code = "failSafe"
	CodeCannotEncryptEncrypted Code = "cannotEncryptEncrypted"
	CodeNoActiveMasterKey      Code = "noActiveMasterKey"
	CodeUnknownItemType        Code = "unknownItemType"
	CodeRejectedByTarget       Code = "rejectedByTarget"
	CodeFileNotFound           Code = "fileNotFound"
	CodeTimeout                Code = "timeout"
)

// Error is a coded error. Retryable errors are transient conditions that
// the next run may not hit again; they are logged but kept out of the
// user-facing report.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// NewError builds a coded error. Timeouts are marked retryable.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code == CodeTimeout}
}

// ErrorCode extracts the Code from err's wrap chain, or "" when err
// carries none.
func ErrorCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return ErrorCode(err) == code
}

// IsTimeout reports whether err is a timeout of any flavor: the coded
// timeout, a deadline exceeded, or a timing-out net error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isLockCode(code Code) bool {
	switch code {
	case CodeLockError, CodeSyncLockGone, CodeHasExclusiveLock, CodeHasSyncLock:
		return true
	}
	return false
}

func isRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
