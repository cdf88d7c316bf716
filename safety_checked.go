//go:build !depot_unchecked

package depot

// safetyChecks enables the aliasing checks. Build with -tags depot_unchecked
// to compile them out.
const safetyChecks = true
