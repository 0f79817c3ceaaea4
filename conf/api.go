// Package conf provides .INI-style configuration maps.
//
// A ConfMap is built from a .conf file and/or from "Section.Option=Value"
// strings and is consumed via typed FetchOptionValue*() accessors. Later
// updates replace earlier values for the same option.
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConfMap is accessed via confMap[sectionName][optionName][optionValueIndex]
// or via the methods below.

type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

// MakeConfMap returns a newly created empty ConfMap.
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromFile returns a newly created ConfMap loaded with the
// contents of the confFilePath-specified file.
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

// MakeConfMapFromStrings returns a newly created ConfMap loaded with the
// contents specified in confStrings.
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			err = fmt.Errorf("error building confMap from conf strings: %v", err)
			return
		}
	}

	err = nil
	return
}

// UpdateFromString updates a ConfMap from a single
// "SectionName.OptionName=Value0[,Value1...]" string. An empty value list is
// legal ("SectionName.OptionName=").
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		optionName   string
		optionValues []string
		sectionName  string
	)

	assignSplit := strings.SplitN(confString, "=", 2)
	if 2 != len(assignSplit) {
		assignSplit = strings.SplitN(confString, ":", 2)
		if 2 != len(assignSplit) {
			err = fmt.Errorf("badly formed confString: \"%s\"", confString)
			return
		}
	}

	dotSplit := strings.SplitN(strings.TrimSpace(assignSplit[0]), ".", 2)
	if 2 != len(dotSplit) {
		err = fmt.Errorf("badly formed confString (missing section): \"%s\"", confString)
		return
	}
	sectionName = dotSplit[0]
	optionName = dotSplit[1]
	if ("" == sectionName) || ("" == optionName) {
		err = fmt.Errorf("badly formed confString: \"%s\"", confString)
		return
	}

	optionValues = splitOptionValues(assignSplit[1])

	section, ok := confMap[sectionName]
	if !ok {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = optionValues

	err = nil
	return
}

// UpdateFromFile updates a ConfMap from the contents of the
// confFilePath-specified .conf file. Empty lines and lines whose first
// non-blank character is '#' or ';' are ignored. A "[SectionName]" line
// starts a section; "OptionName = Value0[,Value1...]" lines populate it.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		sectionName string
	)

	confFileBytes, err := os.ReadFile(confFilePath)
	if nil != err {
		err = fmt.Errorf("unable to read conf file \"%s\": %v", confFilePath, err)
		return
	}

	for confFileLineNumber, confFileLine := range strings.Split(string(confFileBytes), "\n") {
		confFileLine = strings.TrimSpace(confFileLine)

		if ("" == confFileLine) || ('#' == confFileLine[0]) || (';' == confFileLine[0]) {
			continue
		}

		if ('[' == confFileLine[0]) && (']' == confFileLine[len(confFileLine)-1]) {
			sectionName = strings.TrimSpace(confFileLine[1 : len(confFileLine)-1])
			if "" == sectionName {
				err = fmt.Errorf("%s:%d: empty section name", confFilePath, confFileLineNumber+1)
				return
			}
			_, ok := confMap[sectionName]
			if !ok {
				confMap[sectionName] = make(ConfMapSection)
			}
			continue
		}

		if "" == sectionName {
			err = fmt.Errorf("%s:%d: option line before any [Section] line", confFilePath, confFileLineNumber+1)
			return
		}

		assignSplit := strings.SplitN(confFileLine, "=", 2)
		if 2 != len(assignSplit) {
			assignSplit = strings.SplitN(confFileLine, ":", 2)
			if 2 != len(assignSplit) {
				err = fmt.Errorf("%s:%d: badly formed option line: \"%s\"", confFilePath, confFileLineNumber+1, confFileLine)
				return
			}
		}

		optionName := strings.TrimSpace(assignSplit[0])
		if "" == optionName {
			err = fmt.Errorf("%s:%d: empty option name", confFilePath, confFileLineNumber+1)
			return
		}

		confMap[sectionName][optionName] = splitOptionValues(assignSplit[1])
	}

	err = nil
	return
}

func splitOptionValues(valueList string) (optionValues []string) {
	optionValues = make([]string, 0)
	for _, commaPiece := range strings.Split(valueList, ",") {
		for _, blankPiece := range strings.Fields(commaPiece) {
			optionValues = append(optionValues, blankPiece)
		}
	}
	return
}

func (confMap ConfMap) fetchOptionValueSlice(sectionName string, optionName string) (optionValues ConfMapOption, err error) {
	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%s] missing", sectionName)
		return
	}

	optionValues, ok = section[optionName]
	if !ok {
		err = fmt.Errorf("[%s]%s missing", sectionName, optionName)
		return
	}

	err = nil
	return
}

func (confMap ConfMap) fetchOptionValueSingle(sectionName string, optionName string) (optionValue string, err error) {
	optionValues, err := confMap.fetchOptionValueSlice(sectionName, optionName)
	if nil != err {
		return
	}
	if 1 != len(optionValues) {
		err = fmt.Errorf("[%s]%s must have a single value", sectionName, optionName)
		return
	}

	optionValue = optionValues[0]
	err = nil
	return
}

// FetchOptionValueStringSlice returns the option's value list verbatim.
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	optionValue, err = confMap.fetchOptionValueSlice(sectionName, optionName)
	return
}

// FetchOptionValueString returns the option's single string value.
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValue, err = confMap.fetchOptionValueSingle(sectionName, optionName)
	return
}

// FetchOptionValueBool returns the option's single value interpreted as a
// boolean. Accepted spellings follow strconv.ParseBool().
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseBool(optionValueAsString)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a bool: %v", sectionName, optionName, optionValueAsString, err)
	}
	return
}

// FetchOptionValueUint16 returns the option's single value interpreted as a uint16.
func (confMap ConfMap) FetchOptionValueUint16(sectionName string, optionName string) (optionValue uint16, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueAsUint64, err := strconv.ParseUint(optionValueAsString, 10, 16)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint16: %v", sectionName, optionName, optionValueAsString, err)
		return
	}

	optionValue = uint16(optionValueAsUint64)
	return
}

// FetchOptionValueUint32 returns the option's single value interpreted as a uint32.
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueAsUint64, err := strconv.ParseUint(optionValueAsString, 10, 32)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint32: %v", sectionName, optionName, optionValueAsString, err)
		return
	}

	optionValue = uint32(optionValueAsUint64)
	return
}

// FetchOptionValueUint64 returns the option's single value interpreted as a uint64.
func (confMap ConfMap) FetchOptionValueUint64(sectionName string, optionName string) (optionValue uint64, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueAsString, 10, 64)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a uint64: %v", sectionName, optionName, optionValueAsString, err)
	}
	return
}

// FetchOptionValueFloat64 returns the option's single value interpreted as a float64.
func (confMap ConfMap) FetchOptionValueFloat64(sectionName string, optionName string) (optionValue float64, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseFloat(optionValueAsString, 64)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a float64: %v", sectionName, optionName, optionValueAsString, err)
	}
	return
}

// FetchOptionValueDuration returns the option's single value interpreted as a
// time.Duration ("250ms", "10s", ...).
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueAsString, err := confMap.fetchOptionValueSingle(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueAsString)
	if nil != err {
		err = fmt.Errorf("[%s]%s (\"%s\") not parseable as a time.Duration: %v", sectionName, optionName, optionValueAsString, err)
	}
	return
}
