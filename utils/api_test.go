package utils

import (
	"testing"
)

func TestGetGoId(t *testing.T) {
	goId := GetGoId()
	if 0 == goId {
		t.Fatalf("GetGoId() returned 0")
	}

	otherGoId := make(chan uint64)
	go func() {
		otherGoId <- GetGoId()
	}()
	if goId == <-otherGoId {
		t.Fatalf("two goroutines returned the same goroutine id")
	}
}

func TestStackTraceToGoId(t *testing.T) {
	if StackTraceToGoId(MyStackTrace()) != GetGoId() {
		t.Fatalf("StackTraceToGoId(MyStackTrace()) != GetGoId()")
	}
	if 0 != StackTraceToGoId([]byte("garbage")) {
		t.Fatalf("StackTraceToGoId() should return 0 for garbage input")
	}
}

func TestGetFuncPackage(t *testing.T) {
	fn, pkg, goId := GetFuncPackage(0)
	if "TestGetFuncPackage" != fn {
		t.Fatalf("GetFuncPackage() returned fn == \"%s\"", fn)
	}
	if "utils" != pkg {
		t.Fatalf("GetFuncPackage() returned pkg == \"%s\"", pkg)
	}
	if goId != GetGoId() {
		t.Fatalf("GetFuncPackage() returned wrong goroutine id")
	}
}

func TestByteSliceToString(t *testing.T) {
	if "abc" != ByteSliceToString([]byte{0x61, 0x62, 0x63}) {
		t.Fatalf("ByteSliceToString() returned unexpected string")
	}
	if 3 != len(StringToByteSlice("abc")) {
		t.Fatalf("StringToByteSlice() returned unexpected byte slice")
	}
}
