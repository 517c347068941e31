// Package util collects small helpers shared across meshcore that don't
// belong to any one component.
package util

import (
	"runtime"
	"sync"
	"time"
)

// Yield wraps runtime.Gosched so callers don't need to import runtime.
func Yield() {
	runtime.Gosched()
}

// bytePool buffers recently used byte slices so they can be reused across
// calls instead of garbage-collected.
var bytePool = sync.Pool{New: func() interface{} { return []byte(nil) }}

// GetBytes returns a zero-length slice backed by reused capacity when one is
// available.
func GetBytes() []byte {
	return bytePool.Get().([]byte)[:0]
}

// PutBytes returns a slice to the pool for reuse. Callers must not use bs
// after calling PutBytes.
func PutBytes(bs []byte) {
	bytePool.Put(bs) //nolint:staticcheck
}

// TimerStop stops t and drains its channel if it had already fired, so that
// t can be safely reused with time.Timer.Reset.
func TimerStop(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
