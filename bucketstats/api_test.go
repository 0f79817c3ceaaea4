package bucketstats

import (
	"strings"
	"testing"
)

type testStatsGroup struct {
	OpCount   Total
	OpSize    Average
	OpLatency BucketLog2Round
	NotAStat  int
	Named     Total `json:"-"`
}

func TestTotal(t *testing.T) {
	var total Total

	total.Increment()
	total.Add(9)
	if 10 != total.TotalGet() {
		t.Fatalf("TotalGet() returned %d, expected 10", total.TotalGet())
	}
}

func TestAverage(t *testing.T) {
	var avg Average

	if 0 != avg.AverageGet() {
		t.Fatalf("AverageGet() of an empty Average should be 0")
	}

	avg.Add(10)
	avg.Add(20)
	avg.Increment()
	if 3 != avg.CountGet() {
		t.Fatalf("CountGet() returned %d, expected 3", avg.CountGet())
	}
	if 31 != avg.TotalGet() {
		t.Fatalf("TotalGet() returned %d, expected 31", avg.TotalGet())
	}
	if 10 != avg.AverageGet() {
		t.Fatalf("AverageGet() returned %d, expected 10", avg.AverageGet())
	}
}

func TestBucketLog2Round(t *testing.T) {
	var bucket BucketLog2Round

	bucket.Add(0)
	bucket.Add(1)
	bucket.Add(2)
	bucket.Add(3)
	bucket.Add(4)

	dist := bucket.DistGet()
	if 1 != dist[0].Count {
		t.Fatalf("bucket 0 Count is %d, expected 1", dist[0].Count)
	}
	if 1 != dist[1].Count {
		t.Fatalf("bucket 1 Count is %d, expected 1", dist[1].Count)
	}
	if 2 != dist[2].Count {
		t.Fatalf("bucket 2 Count is %d, expected 2", dist[2].Count)
	}
	if 1 != dist[3].Count {
		t.Fatalf("bucket 3 Count is %d, expected 1", dist[3].Count)
	}

	if 5 != bucket.CountGet() {
		t.Fatalf("CountGet() returned %d, expected 5", bucket.CountGet())
	}
}

func TestRegister(t *testing.T) {
	var statsGroup testStatsGroup

	Register("bucketstats", "test", &statsGroup)
	defer UnRegister("bucketstats", "test")

	if "OpCount" != statsGroup.OpCount.Name {
		t.Fatalf("Register() should have defaulted OpCount.Name, got \"%s\"", statsGroup.OpCount.Name)
	}

	statsGroup.OpCount.Increment()
	statsGroup.OpSize.Add(4096)
	statsGroup.OpLatency.Add(100)

	values := SprintStats(StatFormatParsable1, "bucketstats", "test")
	if !strings.Contains(values, "bucketstats.test.OpCount total:1") {
		t.Fatalf("SprintStats() missing OpCount:\n%s", values)
	}
	if !strings.Contains(values, "OpSize avg:4096") {
		t.Fatalf("SprintStats() missing OpSize:\n%s", values)
	}

	wildcard := SprintStats(StatFormatParsable1, "*", "*")
	if !strings.Contains(wildcard, "OpLatency") {
		t.Fatalf("SprintStats(\"*\", \"*\") missing OpLatency:\n%s", wildcard)
	}
}

func TestRegisterPanics(t *testing.T) {
	defer func() {
		if nil == recover() {
			t.Fatalf("Register() with both names empty should panic")
		}
	}()

	var statsGroup testStatsGroup
	Register("", "", &statsGroup)
}
