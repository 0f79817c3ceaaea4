package logger

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/blockcache/conf"
	"github.com/NVIDIA/blockcache/transitions"
)

var logFile *os.File = nil

type globalsStruct struct{}

var globals globalsStruct

func init() {
	transitions.Register("logger", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	log.SetFormatter(&log.TextFormatter{DisableColors: true})

	// Fetch log file info, if provided
	logFilePath, _ := confMap.FetchOptionValueString("Logging", "LogFilePath")
	if logFilePath != "" {
		logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Errorf("couldn't open log file: %v", err)
			return err
		}
	}

	// Determine whether we should log to console. Default is false.
	logToConsole, err := confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if err != nil {
		logToConsole = false
		err = nil
	}

	if logFilePath != "" {
		if logToConsole {
			log.SetOutput(io.MultiWriter(logFile, os.Stderr))
		} else {
			log.SetOutput(logFile)
		}
	}
	// else: accept default destination of stderr

	// NOTE: We always enable max logging in logrus and decide in this package
	//       whether to emit a given entry.
	log.SetLevel(log.DebugLevel)

	traceConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "TraceLevelLogging")
	setTraceLoggingLevel(traceConfSlice)

	debugConfSlice, _ := confMap.FetchOptionValueStringSlice("Logging", "DebugLevelLogging")
	setDebugLoggingLevel(debugConfSlice)

	return nil
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	// We open and close our own logfile
	if logFile != nil {
		err = logFile.Close()
		logFile = nil
	}
	return
}
