//go:build lockdebug

package xct

// Debug builds (-tags lockdebug) turn invariant violations into panics.
// These guard programmer error only (foreign-block release, pool over-draw);
// correctness never depends on them.
func assert(cond bool, msg string) {
	if !cond {
		panic("xct: invariant violation: " + msg)
	}
}
