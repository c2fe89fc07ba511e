package util

import (
	"fmt"
	"runtime/debug"

	"github.com/kettlefi/kettle/internal/logging"
)

// SafeGoWithName runs fn in a goroutine, logging any panic with its stack
// instead of crashing the process.
//
// Example:
//
//	util.SafeGoWithName("metrics-server", func() {
//	    // goroutine code here
//	})
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("goroutine panic recovered",
					"goroutine", name,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// SafeCall runs fn and converts a panic into an error. It is used inside
// errgroup workers, where a panic would otherwise take down every batch.
func SafeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return fn()
}
