package logger

import (
	"testing"

	"github.com/NVIDIA/blockcache/conf"
)

func TestAPI(t *testing.T) {
	confStrings := []string{
		"Logging.LogFilePath=",
		"Logging.LogToConsole=false",
		"Logging.TraceLevelLogging=logger",
		"Logging.DebugLevelLogging=none",
	}

	confMap, err := conf.MakeConfMapFromStrings(confStrings)
	if err != nil {
		t.Fatalf("conf.MakeConfMapFromStrings() failed: %v", err)
	}

	err = globals.Up(confMap)
	if err != nil {
		t.Fatalf("logger.Up() failed: %v", err)
	}

	Infof("testing Infof: %v", "arg")
	Warnf("testing Warnf: %v", "arg")
	Errorf("testing Errorf: %v", "arg")
	Tracef("testing Tracef: %v", "arg")
	Debugf("testing Debugf: %v", "arg")

	err = globals.Down(confMap)
	if err != nil {
		t.Fatalf("logger.Down() failed: %v", err)
	}
}

func TestTraceSettings(t *testing.T) {
	setTraceLoggingLevel([]string{"blockcache"})
	if !traceLevelEnabled {
		t.Fatalf("traceLevelEnabled should be true")
	}
	if !traceEnabled("blockcache") {
		t.Fatalf("traceEnabled(\"blockcache\") should be true")
	}
	if traceEnabled("nonexistent") {
		t.Fatalf("traceEnabled(\"nonexistent\") should be false")
	}

	setTraceLoggingLevel([]string{"none"})
	if traceLevelEnabled {
		t.Fatalf("traceLevelEnabled should be false")
	}
	packageTraceSettings["blockcache"] = false
}
