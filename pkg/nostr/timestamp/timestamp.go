// Package timestamp is the one second precision UNIX time used on the wire
// and as the EOSE low water mark.
package timestamp

import (
	"strconv"
	"time"
)

// T is a convenience type for UNIX 64 bit timestamps of 1 second
// precision.
type T int64

// Now returns the current UNIX timestamp of the current second.
func Now() T { return T(time.Now().Unix()) }

// FromTime returns a T from a time.Time
func FromTime(t time.Time) T { return T(t.Unix()) }

// FromUnix converts from a standard int64 unix timestamp.
func FromUnix(t int64) T { return T(t) }

// I64 returns the timestamp as int64.
func (t T) I64() int64 { return int64(t) }

// Time converts the timestamp into a time.Time.
func (t T) Time() time.Time { return time.Unix(int64(t), 0) }

// Ptr returns the address of a copy, for optional filter fields.
func (t T) Ptr() *T { return &t }

func (t T) String() string { return strconv.FormatInt(int64(t), 10) }

// Max returns the later of two timestamps.
func Max(a, b T) T {
	if a > b {
		return a
	}
	return b
}
