package engine

import "time"

// Clock supplies the request timestamp. Every timestamp written during one
// dispatch (last_modified, begin_time, created, ...) is the same value.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock in unix seconds.
type SystemClock struct{}

// Now returns the current unix time.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
