// Package checked carries the allocators' checked-build behaviour: the default
// switch, the violation sentinels, and the panic raised when a caller breaks
// the single-owner contract.
//
// Violations are programmer errors. They are detected only when checking is
// enabled and are always raised before the allocator mutates any state, so a
// recovered violation leaves every other live allocation intact.
package checked

import (
	"errors"
	"fmt"

	"github.com/joshuapare/memtier/internal/logger"
)

var (
	// ErrDoubleFree indicates a block was freed while already free.
	ErrDoubleFree = errors.New("memtier: double free")

	// ErrForeignPointer indicates a pointer that no allocator tier owns.
	ErrForeignPointer = errors.New("memtier: foreign pointer")

	// ErrLeak indicates Destroy was called while allocations were still live.
	ErrLeak = errors.New("memtier: live allocations at destroy")

	// ErrCorrupt indicates a block header, footer or poison marker was overwritten.
	ErrCorrupt = errors.New("memtier: block metadata corrupted")
)

// Violation is the panic value raised for a contract violation.
type Violation struct {
	Op     string  // operation that detected it, e.g. "slab.Free"
	Err    error   // one of the sentinels above
	Addr   uintptr // offending address, 0 when not applicable
	Detail string
}

func (v *Violation) Error() string {
	if v.Addr != 0 {
		return fmt.Sprintf("%s: %v at 0x%x: %s", v.Op, v.Err, v.Addr, v.Detail)
	}
	return fmt.Sprintf("%s: %v: %s", v.Op, v.Err, v.Detail)
}

func (v *Violation) Unwrap() error { return v.Err }

// Fail logs the violation and panics with it.
func Fail(op string, err error, addr uintptr, format string, args ...any) {
	v := &Violation{Op: op, Err: err, Addr: addr, Detail: fmt.Sprintf(format, args...)}
	logger.Error("contract violation", "op", op, "err", err, "addr", addr, "detail", v.Detail)
	panic(v)
}

// Recover runs fn and returns the Violation it raised, or nil when fn returned
// normally. Panics that are not violations propagate.
func Recover(fn func()) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if v, ok = r.(*Violation); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}
