// Command readcached hosts a read cache next to a hosted backend: it keeps
// the SQLite entry store swept, applies remote change notifications and
// exposes health, stats and operator endpoints.
package main

import (
	"fmt"
	"os"
)

// buildVersion is set with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
