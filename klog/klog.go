// Package klog centralizes the VM core's structured logging. The teacher
// kernel traces frame/eviction/fault activity with ad-hoc fmt.Printf calls
// (mem.Phys_init's "Reserved %v pages" line, the commented-out maxchain
// traces in hashtable.go); this package replaces that style with
// github.com/rs/zerolog so every subsystem logs through one sink with
// consistent levels and fields.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.Mutex
	log zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

// SetOutput redirects the package logger to w, preserving the current level.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Output(w)
}

// SetLevel adjusts the minimum logged level.
func SetLevel(lvl zerolog.Level) {
	mu.Lock()
	defer mu.Unlock()
	log = log.Level(lvl)
}

// For returns a child logger tagged with the given subsystem name, e.g.
// klog.For("frame") used by the frame table.
func For(subsystem string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return log.With().Str("subsys", subsystem).Logger()
}
