// Package klog is the kernel's console logger: it replaces per-callsite
// uartPuts/uartPutHex64 breadcrumbs with leveled helpers backed by a
// single io.Writer, so every component logs through one place instead of
// hand-formatting hex strings inline.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelFatal:
		return "FATAL"
	default:
		return "?"
	}
}

// Sink is anything the kernel console can write bytes to. The UART device
// file (internal/vfs/devfs) and the bare-metal mmio/uart binding both
// satisfy it.
type Sink interface {
	io.Writer
}

var (
	mu sync.Mutex
	sink Sink = os.Stderr
	minLevel = LevelDebug
)

// SetSink redirects kernel log output, e.g. to the UART console once it is
// brought up during boot.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	sink = s
}

// SetLevel suppresses messages below lvl.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = lvl
}

func logf(lvl Level, component, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl < minLevel {
		return
	}
	fmt.Fprintf(sink, "[%s] %s: %s\r\n", lvl, component, fmt.Sprintf(format, args...))
}

func Debugf(component, format string, args ...interface{}) { logf(LevelDebug, component, format, args...) }
func Infof(component, format string, args ...interface{}) { logf(LevelInfo, component, format, args...) }
func Warnf(component, format string, args ...interface{}) { logf(LevelWarn, component, format, args...) }

// Fatalf logs at FATAL and halts the kernel. Structural invariant
// violations (empty run queue, unknown vector entry, corrupted freelist
// sentinels) go through this: print to the synchronous-mode console and
// halt.
func Fatalf(component, format string, args ...interface{}) {
	logf(LevelFatal, component, format, args...)
	halt()
}

// halt is swapped out in tests; on real hardware it never returns.
var halt = func() {
	select {}
}
