// Package gid extracts the runtime's goroutine id. The id anchors
// goroutine-local state, such as the device stream a pipeline stage issues
// its copies on.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// ID returns the calling goroutine's id.
//
// The id is parsed from the goroutine's stack header. This costs a stack
// dump per call, so callers are expected to cache lookups keyed by it, not
// call it per operation.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	frame := bytes.TrimPrefix(buf[:n], prefix)
	end := bytes.IndexByte(frame, ' ')
	if end < 0 {
		panic("gid: malformed stack header")
	}
	id, err := strconv.ParseUint(string(frame[:end]), 10, 64)
	if err != nil {
		panic("gid: malformed goroutine id: " + err.Error())
	}
	return id
}
