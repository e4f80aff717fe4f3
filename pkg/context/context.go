// Package context shortens the standard library context names used across
// the pool and its relay clients.
package context

import (
	"context"
)

type (
	T = context.Context
	F = context.CancelFunc
	C = context.CancelCauseFunc
)

var (
	Bg          = context.Background
	Cancel      = context.WithCancel
	Timeout     = context.WithTimeout
	TODO        = context.TODO
	Value       = context.WithValue
	CancelCause = context.WithCancelCause
	Cause       = context.Cause
	Canceled    = context.Canceled
	Deadline    = context.DeadlineExceeded
)
