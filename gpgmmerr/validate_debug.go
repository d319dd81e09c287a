//go:build debug_gpgmm

package gpgmmerr

// debugPanicOnLogicError crashes immediately on a LogicError in debug
// builds, rather than letting an invariant violation propagate as an
// ordinary error a caller might swallow.
func debugPanicOnLogicError(err error) {
	panic(err)
}
