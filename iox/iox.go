// Package iox holds the append-only output files of a run and small
// close helpers.
package iox

import "io"

// DiscardClose closes c, ignoring the error. For deferred response bodies
// and files whose close result cannot change the outcome.
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc adapts c to a cleanup callback, e.g. t.Cleanup(iox.CloseFunc(f)).
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
