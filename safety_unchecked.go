//go:build depot_unchecked

package depot

const safetyChecks = false
