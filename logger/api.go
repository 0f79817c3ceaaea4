// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a
// third-party logging package. The package is currently implemented on top of
// the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package and calling function to all logs.
//
// Logging of trace logs is enabled/disabled on a per package basis via the
// Logging.TraceLevelLogging config variable.
package logger

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/blockcache/utils"
)

type Level int

// Our logging levels - These are the different logging levels supported by
// this package; they map onto logrus levels before calling logrus APIs.
const (
	// PanicLevel corresponds to logrus.PanicLevel; logrus will log and then panic with the log message
	PanicLevel Level = iota
	// FatalLevel corresponds to logrus.FatalLevel; logrus will log and then call os.Exit(1)
	FatalLevel
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel; general operational entries
	InfoLevel
	// TraceLevel is used for operational logs that trace the success path through the
	// application. Whether these are logged is controlled per package; when enabled,
	// they are logged at logrus.InfoLevel.
	TraceLevel
	// DebugLevel is used for very verbose logging; controlled per package. When
	// enabled, these are logged at logrus.DebugLevel.
	DebugLevel
)

// Enable/disable for trace and debug levels.
// These are defaulted to disabled unless otherwise specified in the .conf file.
var traceLevelEnabled = false
var debugLevelEnabled = false

// packageTraceSettings controls whether tracing is enabled for particular
// packages. If a package is in this map and is set to "true", trace logs for
// that package are emitted. If the package is in this list and set to
// "false", OR if the package is not in this list, trace logs for that package
// are NOT emitted.
//
// Note: In order to enable tracing for a package using the
// "Logging.TraceLevelLogging" config variable, the package must be in this
// map with a value of false (or true).
var packageTraceSettings = map[string]bool{
	"blockcache":  false,
	"ramobjstore": false,
	"striper":     false,
	"trackedlock": false,
}

var packageDebugSettings = map[string]bool{
	"blockcache": false,
}

func setTraceLoggingLevel(confStrSlice []string) {
	if len(confStrSlice) == 0 {
		traceLevelEnabled = false
	}

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			traceLevelEnabled = false
			break HandlePkgs
		default:
			if _, ok := packageTraceSettings[pkg]; ok {
				packageTraceSettings[pkg] = true

				// If any trace level is enabled, need to enable trace level in
				// general. This flag lets us avoid the performance hit of
				// trace-level API calls if the trace level is disabled.
				traceLevelEnabled = true
			}
		}
	}
}

func setDebugLoggingLevel(confStrSlice []string) {
	if len(confStrSlice) == 0 {
		debugLevelEnabled = false
	}

HandlePkgs:
	for _, pkg := range confStrSlice {
		switch pkg {
		case "none":
			debugLevelEnabled = false
			break HandlePkgs
		default:
			if _, ok := packageDebugSettings[pkg]; ok {
				packageDebugSettings[pkg] = true
				debugLevelEnabled = true
			}
		}
	}
}

func traceEnabled(pkg string) bool {
	isEnabled, ok := packageTraceSettings[pkg]
	if ok {
		return isEnabled
	}
	return false
}

func debugEnabled(pkg string) bool {
	isEnabled, ok := packageDebugSettings[pkg]
	if ok {
		return isEnabled
	}
	return false
}

// Log fields supported by logger:
const packageKey string = "package"
const functionKey string = "function"
const errorKey string = "error"
const gidKey string = "goroutine"

func newLogEntry(level int) (entry *log.Entry, pkg string) {
	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	fields := make(log.Fields)
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid

	entry = log.WithFields(fields)
	return
}

func logEnabled(level Level) bool {
	if (level == TraceLevel) && !traceLevelEnabled {
		return false
	}
	if (level == DebugLevel) && !debugLevelEnabled {
		return false
	}
	return true
}

var backtraceOneLevel int = 1

func emit(entry *log.Entry, level Level, logString string) {
	switch level {
	case PanicLevel:
		entry.Panic(logString)
	case FatalLevel:
		entry.Fatal(logString)
	case ErrorLevel:
		entry.Error(logString)
	case WarnLevel:
		entry.Warn(logString)
	case InfoLevel, TraceLevel:
		entry.Info(logString)
	case DebugLevel:
		entry.Debug(logString)
	}
}

// EXTERNAL logging APIs. These APIs are in the style of those provided by the
// logrus package.

func Info(args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry, InfoLevel, fmt.Sprint(args...))
}

func Infof(format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry, InfoLevel, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry, WarnLevel, fmt.Sprintf(format, args...))
}

func WarnfWithError(err error, format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry.WithField(errorKey, err), WarnLevel, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry, ErrorLevel, fmt.Sprintf(format, args...))
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry.WithField(errorKey, err), ErrorLevel, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry, FatalLevel, fmt.Sprintf(format, args...))
}

func PanicfWithError(err error, format string, args ...interface{}) {
	entry, _ := newLogEntry(backtraceOneLevel)
	emit(entry.WithField(errorKey, err), PanicLevel, fmt.Sprintf(format, args...))
}

// Tracef emits an info-level log only if tracing is enabled for the calling
// package.
func Tracef(format string, args ...interface{}) {
	if !logEnabled(TraceLevel) {
		return
	}
	entry, pkg := newLogEntry(backtraceOneLevel)
	if !traceEnabled(pkg) {
		return
	}
	emit(entry, TraceLevel, fmt.Sprintf(format, args...))
}

// Debugf emits a debug-level log only if debug logging is enabled for the
// calling package.
func Debugf(format string, args ...interface{}) {
	if !logEnabled(DebugLevel) {
		return
	}
	entry, pkg := newLogEntry(backtraceOneLevel)
	if !debugEnabled(pkg) {
		return
	}
	emit(entry, DebugLevel, fmt.Sprintf(format, args...))
}
