package bucketstats

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type statsGroup struct {
	pkgName        string
	statsGroupName string
	statsStruct    interface{}
}

var (
	statsNameMapLock sync.Mutex
	statsNameMap     = make(map[string]statsGroup)
)

func groupKey(pkgName string, statsGroupName string) string {
	return pkgName + ":" + statsGroupName
}

func validName(name string) bool {
	return !strings.ContainsAny(name, " \t\n\"*:")
}

// register() validates the names, assigns default statistic names from field
// names, and adds the group to the registry.
func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	if pkgName == "" && statsGroupName == "" {
		panic("bucketstats.Register(): pkgName and statsGroupName cannot both be empty")
	}
	if !validName(pkgName) || !validName(statsGroupName) {
		panic(fmt.Sprintf("bucketstats.Register(): invalid name '%s:%s'", pkgName, statsGroupName))
	}

	structAsValue := reflect.ValueOf(statsStruct)
	if structAsValue.Kind() != reflect.Ptr || structAsValue.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("bucketstats.Register(): statsStruct for '%s:%s' must be a pointer to a struct",
			pkgName, statsGroupName))
	}

	structAsElem := structAsValue.Elem()
	structAsType := structAsElem.Type()

	namesSeen := make(map[string]bool)
	for fieldIndex := 0; fieldIndex < structAsElem.NumField(); fieldIndex++ {
		fieldAsValue := structAsElem.Field(fieldIndex)

		var nameField reflect.Value
		switch fieldAsValue.Type().String() {
		case "bucketstats.Total", "bucketstats.Average", "bucketstats.BucketLog2Round":
			nameField = fieldAsValue.FieldByName("Name")
		default:
			continue
		}

		if nameField.String() == "" {
			nameField.SetString(structAsType.Field(fieldIndex).Name)
		}
		statName := nameField.String()
		if !validName(statName) {
			panic(fmt.Sprintf("bucketstats.Register(): invalid statistic name '%s' in '%s:%s'",
				statName, pkgName, statsGroupName))
		}
		if namesSeen[statName] {
			panic(fmt.Sprintf("bucketstats.Register(): duplicate statistic name '%s' in '%s:%s'",
				statName, pkgName, statsGroupName))
		}
		namesSeen[statName] = true
	}

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	key := groupKey(pkgName, statsGroupName)
	_, ok := statsNameMap[key]
	if ok {
		panic(fmt.Sprintf("bucketstats.Register(): '%s:%s' is already registered", pkgName, statsGroupName))
	}
	statsNameMap[key] = statsGroup{pkgName: pkgName, statsGroupName: statsGroupName, statsStruct: statsStruct}
}

func unRegister(pkgName string, statsGroupName string) {
	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	delete(statsNameMap, groupKey(pkgName, statsGroupName))
}

func sprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (values string) {
	statsNameMapLock.Lock()
	groups := make([]statsGroup, 0, len(statsNameMap))
	for _, group := range statsNameMap {
		if (pkgName == "*" || pkgName == group.pkgName) &&
			(statsGroupName == "*" || statsGroupName == group.statsGroupName) {
			groups = append(groups, group)
		}
	}
	statsNameMapLock.Unlock()

	sort.Slice(groups, func(i int, j int) bool {
		return groupKey(groups[i].pkgName, groups[i].statsGroupName) <
			groupKey(groups[j].pkgName, groups[j].statsGroupName)
	})

	for _, group := range groups {
		structAsElem := reflect.ValueOf(group.statsStruct).Elem()
		for fieldIndex := 0; fieldIndex < structAsElem.NumField(); fieldIndex++ {
			fieldAsValue := structAsElem.Field(fieldIndex)
			switch fieldAsValue.Type().String() {
			case "bucketstats.Total", "bucketstats.Average", "bucketstats.BucketLog2Round":
				statAsTotaler := fieldAsValue.Addr().Interface().(Totaler)
				values += statAsTotaler.Sprint(stringFmt, group.pkgName, group.statsGroupName)
			}
		}
	}
	return
}

func statName2StatsFmt(pkgName string, statsGroupName string, statName string) string {
	switch {
	case pkgName == "":
		return statsGroupName + "." + statName
	case statsGroupName == "":
		return pkgName + "." + statName
	default:
		return pkgName + "." + statsGroupName + "." + statName
	}
}

func (this *Total) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	name := statName2StatsFmt(pkgName, statsGroupName, this.Name)
	return fmt.Sprintf("%s total:%d\n", name, this.TotalGet())
}

func (this *Average) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	name := statName2StatsFmt(pkgName, statsGroupName, this.Name)
	return fmt.Sprintf("%s avg:%d count:%d total:%d\n", name, this.AverageGet(), this.CountGet(), this.TotalGet())
}

func bucketSprint(stringFmt StatStringFormat, pkgName string, statsGroupName string, statName string, dist []BucketInfo) string {
	name := statName2StatsFmt(pkgName, statsGroupName, statName)

	_, count, total := bucketCalcStat(dist)
	var avg uint64
	if count > 0 {
		avg = total / count
	}
	values := fmt.Sprintf("%s avg:%d count:%d total:%d", name, avg, count, total)
	for _, bucket := range dist {
		if bucket.Count != 0 {
			values += fmt.Sprintf(" %d:%d", bucket.NominalVal, bucket.Count)
		}
	}
	return values + "\n"
}

// bucketDistMake builds the BucketInfo slice describing the buckets.
func bucketDistMake(statBuckets []uint64) (dist []BucketInfo) {
	dist = make([]BucketInfo, len(statBuckets))
	for bucketIndex := range statBuckets {
		var nominalVal, rangeLow, rangeHigh uint64
		switch bucketIndex {
		case 0:
			nominalVal, rangeLow, rangeHigh = 0, 0, 0
		case 1:
			nominalVal, rangeLow, rangeHigh = 1, 1, 1
		default:
			nominalVal = uint64(1) << uint(bucketIndex-1)
			rangeLow = nominalVal
			rangeHigh = nominalVal<<1 - 1
		}
		dist[bucketIndex] = BucketInfo{
			Count:      atomic.LoadUint64(&statBuckets[bucketIndex]),
			NominalVal: nominalVal,
			RangeLow:   rangeLow,
			RangeHigh:  rangeHigh,
		}
	}
	return
}

// bucketCalcStat computes aggregate statistics over the distribution,
// treating every value in a bucket as the bucket's nominal value.
func bucketCalcStat(dist []BucketInfo) (nBucket uint64, count uint64, total uint64) {
	nBucket = uint64(len(dist))
	for _, bucket := range dist {
		count += bucket.Count
		total += bucket.Count * bucket.NominalVal
	}
	return
}
