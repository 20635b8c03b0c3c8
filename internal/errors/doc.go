// Package errors provides structured, coded errors for localstore.
//
// Every error carries a registered code (e.g. "E021") that maps to a short
// message, a longer explanation and a documentation link. Errors wrap their
// cause so errors.Is and errors.As see through them.
//
// # Error Categories
//
//   - runtime: misuse of the reactive binding
//   - storage: encode, write and remove failures on the persistent store
//   - protocol: relay connection problems
//   - config: configuration loading and validation
//   - cli: command line usage
//
// # Usage
//
//	err := errors.New("E021").
//	    WithDetail("key \"theme\"").
//	    Wrap(cause)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E021: Storage write failed
//	//
//	//   key "theme"
//	//
//	//   Learn more: https://vango.dev/docs/localstore/errors/E021
package errors
