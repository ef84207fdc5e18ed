package tbucket_test

import "os"

// newExampleDir gives each runnable example its own scratch directory for
// the sqlite file it opens, so the package's examples can run concurrently
// without clobbering each other's state.
func newExampleDir() (string, error) {
	return os.MkdirTemp("", "tbucket-example-*")
}
