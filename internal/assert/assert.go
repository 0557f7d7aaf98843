// Package assert reports programmer misuse (§7 "Misuse") as hard failures,
// the same way the teacher treats a nil or misconfigured collaborator: not
// as a recoverable error, but as a bug to surface immediately.
package assert

import "fmt"

// Require panics with a formatted message if cond is false. Use it for
// preconditions a caller violates by construction — a nil callback, a
// lifecycle method called out of order — never for conditions a backend or
// network failure could trigger.
func Require(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("evalpipe: "+format, args...))
	}
}
