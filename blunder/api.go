// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface. This package provides
// APIs to add errno information to regular Go errors.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - your own additional information
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/blockcache/logger"
)

// Error constants used in the blockcache namespace.
//
// These correspond to linux/POSIX errnos as defined in errno.h. Completion
// return values for the cache's asynchronous operations are the negation of
// these values on failure.
//
// NOTE: unix.Errno is used here because they are errno constants that exist
//       in Go-land; we cast to int to get the errno value.
type CacheError int

const (
	NotPermError      CacheError = CacheError(int(unix.EPERM))     // Operation not permitted
	NotFoundError     CacheError = CacheError(int(unix.ENOENT))    // No such object
	IOError           CacheError = CacheError(int(unix.EIO))       // I/O error
	TryAgainError     CacheError = CacheError(int(unix.EAGAIN))    // Try again
	OutOfMemoryError  CacheError = CacheError(int(unix.ENOMEM))    // Out of memory
	DevBusyError      CacheError = CacheError(int(unix.EBUSY))     // Device or resource busy
	InvalidArgError   CacheError = CacheError(int(unix.EINVAL))    // Invalid argument
	NoSpaceError      CacheError = CacheError(int(unix.ENOSPC))    // No space left on device
	CanceledError     CacheError = CacheError(int(unix.ECANCELED)) // Operation canceled
	TimedOutError     CacheError = CacheError(int(unix.ETIMEDOUT)) // Operation timed out
	NotSupportedError CacheError = CacheError(int(unix.ENOTSUP))   // Operation not supported
)

// Success error (sounds odd, no?)
const SuccessError CacheError = 0

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

// Value returns the int value for the specified CacheError constant.
func (err CacheError) Value() int {
	return int(err)
}

// NewError creates a new merry/blunder.CacheError-annotated error using the
// given format string and arguments.
func NewError(errValue CacheError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add errno detail to a Go error.
//
// NOTE: Checks whether the error value has already been set; note that by
//       default merry will replace the old with the new.
func AddError(e error, errValue CacheError) error {
	if e == nil {
		// The caller of this function obviously intends to make this a
		// non-nil error, so create one for them.
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	// For now, check and log if an errno has already been added to this
	// error, to help debugging in the cases where this was not intentional.
	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
func Errno(e error) int {
	if e == nil {
		// nil error = success
		return successErrno
	}

	// If the "errno" key/value was not present, merry.Value returns nil.
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

// Rval returns the negative completion return value corresponding to the
// error: 0 for nil, -errno for errno-annotated errors, -EIO otherwise.
func Rval(e error) int64 {
	if e == nil {
		return 0
	}
	errno := Errno(e)
	if errno == failureErrno {
		return -int64(IOError)
	}
	return -int64(errno)
}

// ErrorFromRval reconstitutes a blunder error from a negative completion
// return value; non-negative values map to nil.
func ErrorFromRval(rval int64) error {
	if rval >= 0 {
		return nil
	}
	return NewError(CacheError(-rval), "completion failed with errno %d", -rval)
}

// ErrorString returns the error string plus the error value, if set.
func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	errPlusVal := e.Error()

	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, errno)
	}

	return errPlusVal
}

// Is checks if an error matches a particular CacheError.
//
// NOTE: Because the value of the underlying errno is used to do this check,
//       one cannot use this API to distinguish between CacheErrors that use
//       the same errno value.
func Is(e error, theError CacheError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular CacheError.
func IsNot(e error, theError CacheError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success CacheError.
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error is NOT the success CacheError.
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

// Details wraps merry.Details, which returns all error details including
// stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}
