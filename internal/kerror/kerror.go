// Package kerror collects the short, static kernel errors used at every
// component boundary. They are plain sentinel values so callers can
// compare with errors.Is instead of matching strings.
package kerror

import "errors"

var (
	ErrOutOfMemory = errors.New("out of memory")
	ErrNotAligned = errors.New("not aligned")
	ErrOrderTooLarge = errors.New("order too large")
	ErrOutOfRange = errors.New("address outside managed range")
	ErrOverlap = errors.New("region overlaps an existing mapping")
	ErrNoSuchRegion = errors.New("no such region")
	ErrReadOnlyRegion = errors.New("region is read-only")
	ErrNoBacking = errors.New("region has no backing")
	ErrNoSuchFileOrDirectory = errors.New("no such file or directory")
	ErrExists = errors.New("already exists")
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory = errors.New("is a directory")
	ErrBusy = errors.New("device or resource busy")
	ErrTableFull = errors.New("table full")
	ErrBadFD = errors.New("bad file descriptor")
	ErrNotSupported = errors.New("operation not supported")
	ErrNoSuchTask = errors.New("no such task")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownSyscall = errors.New("unknown syscall number")
	ErrRunQueueEmpty = errors.New("run queue empty")
)
