package utils

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"
)

// TryCatch runs f and hands any recovered panic to catch as an error
// together with the stack trace.
func TryCatch(f func(), catch func(e error, stackTrace string)) {
	defer func() {
		if err := recover(); err != nil {
			if _, ok := err.(error); ok {
				catch(err.(error), string(debug.Stack()))
			} else {
				catch(fmt.Errorf("%v", err), string(debug.Stack()))
			}
		}
	}()

	f()
}

func StringOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

// Sleep waits for delay or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

/*
MergeObjects merges two objects of the same type.
It will iterate over the fields of the object and set the value of objA to the value of objB if the value of objA is the zero value.
*/
func MergeObjects[T any](objA *T, objB T) {

	//If objA type is not a pointer to a struct, return
	if reflect.TypeOf(objA).Kind() != reflect.Ptr || reflect.TypeOf(objA).Elem().Kind() != reflect.Struct {
		return
	}

	if objA == nil {
		return
	}

	fields := reflect.TypeOf(objA).Elem()
	objAValue := reflect.ValueOf(objA).Elem()
	objBValue := reflect.ValueOf(objB)

	for i := 0; i < fields.NumField(); i++ {
		field := fields.Field(i)
		if !field.IsExported() || !field.Type.Comparable() {
			continue
		}
		if objAValue.Field(i).Interface() == reflect.Zero(field.Type).Interface() {
			objAValue.Field(i).Set(objBValue.Field(i))
		}
	}
}
