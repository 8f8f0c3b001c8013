package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type TestStruct struct {
	Name  string
	Value int
	Flag  bool
}

func TestStringOrDefault(t *testing.T) {
	if got := StringOrDefault("", "default"); got != "default" {
		t.Errorf("StringOrDefault() = %v, want default", got)
	}
	if got := StringOrDefault("value", "default"); got != "value" {
		t.Errorf("StringOrDefault() = %v, want value", got)
	}
}

func TestSleep(t *testing.T) {
	ctx := context.Background()
	start := time.Now()
	Sleep(ctx, 5*time.Millisecond)
	duration := time.Since(start)

	if duration < 4*time.Millisecond {
		t.Errorf("Sleep() took %v, expected at least 5ms", duration)
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	Sleep(ctx, time.Minute)

	if time.Since(start) > time.Second {
		t.Error("Sleep() should return as soon as the context is done")
	}
}

func TestMergeObjects(t *testing.T) {
	tests := []struct {
		name string
		objA TestStruct
		objB TestStruct
		want TestStruct
	}{
		{
			name: "merge zero values",
			objA: TestStruct{Name: "", Value: 0, Flag: false},
			objB: TestStruct{Name: "test", Value: 42, Flag: true},
			want: TestStruct{Name: "test", Value: 42, Flag: true},
		},
		{
			name: "keep non-zero values",
			objA: TestStruct{Name: "existing", Value: 100, Flag: true},
			objB: TestStruct{Name: "new", Value: 42, Flag: false},
			want: TestStruct{Name: "existing", Value: 100, Flag: true},
		},
		{
			name: "partial merge",
			objA: TestStruct{Name: "existing", Value: 0, Flag: true},
			objB: TestStruct{Name: "new", Value: 42, Flag: false},
			want: TestStruct{Name: "existing", Value: 42, Flag: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			objA := tt.objA
			MergeObjects(&objA, tt.objB)
			if objA != tt.want {
				t.Errorf("MergeObjects() = %+v, want %+v", objA, tt.want)
			}
		})
	}
}

func TestMergeObjects_InvalidTypes(t *testing.T) {
	var nilPtr *TestStruct
	objB := TestStruct{Name: "test"}
	MergeObjects(nilPtr, objB) // Should not panic

	var intPtr *int
	var intVal int = 42
	MergeObjects(intPtr, intVal) // Should not panic and return early
}

func TestTryCatch(t *testing.T) {
	var caughtError error
	var stackTrace string

	TryCatch(func() {
		panic("test panic")
	}, func(e error, stack string) {
		caughtError = e
		stackTrace = stack
	})

	if caughtError == nil || caughtError.Error() != "test panic" {
		t.Errorf("expected caught error 'test panic', got %v", caughtError)
	}
	if !strings.Contains(stackTrace, "goroutine") {
		t.Error("expected a stack trace")
	}

	sentinel := errors.New("boom")
	TryCatch(func() {
		panic(sentinel)
	}, func(e error, stack string) {
		caughtError = e
	})

	if !errors.Is(caughtError, sentinel) {
		t.Errorf("expected the panicked error to be passed through, got %v", caughtError)
	}
}
