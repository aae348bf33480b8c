// Package preflight checks that esvacuum can reach everything it needs
// before a vacuum run:
//   - the content database answers and lists containers
//   - the search catalog answers
//   - the state directory is writable and has free space
//   - the file descriptor limit is high enough for on-disk indexes
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, preflight.Targets{Store: s, Catalog: cat, StateDir: dir})
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
