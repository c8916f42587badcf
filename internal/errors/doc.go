// Package errors provides structured, actionable errors for hotreload.
//
// Every error carries a short code (e.g. "E100") that maps to a registered
// template with a message, a longer explanation and a documentation link.
// Callers attach the filesystem path involved, a hint, and the underlying
// cause:
//
//	err := errors.New("E100").
//	    WithPath("/srv/app").
//	    WithSuggestion("Check that the root directory exists and is readable").
//	    Wrap(cause)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E100: Root path cannot be opened
//	//
//	//   /srv/app
//	//
//	//   Hint: Check that the root directory exists and is readable
//
// # Categories
//
//   - setup: the watcher could not start (fatal for that watcher instance)
//   - scan: a single pass hit a recoverable problem
//   - config: configuration could not be loaded or is invalid
//   - reload: the reload collaborator reported a failure
package errors
