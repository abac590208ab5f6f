// Package logging declares the minimal leveled-logger seam the replicator
// and log backends use, so the core never hard-codes fmt.Println the way
// the teacher's CLI did.
package logging

import "fmt"

// Logger is the subset of a structured logger the core needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop is a Logger that discards everything. It is the default when a
// caller does not supply one.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}

// Std is a Logger that writes to a fmt.Stringer-free sink via a
// print function, letting callers plug in os.Stderr, a *log.Logger's
// Printf, or a test buffer without pulling in a logging dependency the
// rest of the pack never demonstrates for this domain.
type Std struct {
	Print func(string)
}

func (s Std) logf(level, format string, args ...any) {
	if s.Print == nil {
		return
	}
	s.Print(fmt.Sprintf("["+level+"] "+format, args...))
}

func (s Std) Debugf(format string, args ...any) { s.logf("debug", format, args...) }
func (s Std) Infof(format string, args ...any)  { s.logf("info", format, args...) }
func (s Std) Warnf(format string, args ...any)  { s.logf("warn", format, args...) }
func (s Std) Errorf(format string, args ...any) { s.logf("error", format, args...) }
