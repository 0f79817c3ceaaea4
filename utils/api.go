// Package utils provides miscellaneous helpers shared by the other packages.
package utils

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
)

// GetGoId returns the goroutine id of the caller.
//
// The runtime does not expose this on purpose; parsing it out of a stack
// trace is the only portable way to get it and is only worth the cost in
// logging and lock-tracking paths.
func GetGoId() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	return StackTraceToGoId(b)
}

// StackTraceToGoId extracts the goroutine id from a stack trace previously
// collected via runtime.Stack().
func StackTraceToGoId(buf []byte) (goId uint64) {
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	goId, _ = strconv.ParseUint(string(buf[:idx]), 10, 64)
	return
}

// MyStackTrace returns the caller's stack trace as a byte slice suitable for
// StackTraceToGoId() or for logging.
func MyStackTrace() (stackTrace []byte) {
	stackTrace = make([]byte, 4096)
	stackTrace = stackTrace[:runtime.Stack(stackTrace, false)]
	return
}

var extractTrailingFnName = regexp.MustCompile(`[^\/]*$`)
var extractPkgName = regexp.MustCompile(`^[^.]*`)
var extractFnName = regexp.MustCompile(`[^.]*$`)

// GetAFnName returns a "package.function" string for the caller the requested
// number of levels up the stack.
func GetAFnName(level int) string {
	pc, _, _, _ := runtime.Caller(level + 1)
	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return ""
	}
	return extractTrailingFnName.FindString(functionObject.Name())
}

// GetFuncPackage returns separate function and package names for the caller
// the requested number of levels up the stack, plus the caller's goroutine id.
func GetFuncPackage(level int) (fn string, pkg string, goId uint64) {
	funcPkg := GetAFnName(level + 1)
	pkg = extractPkgName.FindString(funcPkg)
	fn = extractFnName.FindString(funcPkg)
	goId = GetGoId()
	return
}

// GetFnName returns a string containing the name of the running function and
// its package. This can be useful for debug prints.
func GetFnName() string {
	return GetAFnName(1)
}

// ByteSliceToString converts a byte slice to a string.
func ByteSliceToString(byteSlice []byte) (str string) {
	str = string(byteSlice[:])
	return
}

// StringToByteSlice converts a string to a byte slice.
func StringToByteSlice(str string) (byteSlice []byte) {
	byteSlice = []byte(str)
	return
}

